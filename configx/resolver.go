package configx

import "time"

// Resolver merges per-layer partial specs into one effective EngineConfigSpec
// following LayerPrecedenceOrder. In the Global, Crawling, Output and Policies
// sections a higher layer overrides the scalar fields it sets, merges maps
// key-wise, and replaces the slices it sets wholesale. The Processing and
// Rollout sections, and each subsection of the Riptide section, are replaced
// as a whole by the highest layer that sets them. All output is deep-cloned so
// later mutation of a source layer never leaks into an already-resolved
// result.
type Resolver struct{}

func NewResolver() *Resolver { return &Resolver{} }

func (r *Resolver) Resolve(layers map[int]*EngineConfigSpec) *EngineConfigSpec {
	final := &EngineConfigSpec{}
	for _, layer := range LayerPrecedenceOrder() {
		spec, ok := layers[layer]
		if !ok || spec == nil {
			continue
		}
		mergeSpec(final, spec)
	}
	return final
}

func mergeSpec(dst, src *EngineConfigSpec) {
	if src.Global != nil {
		dst.Global = mergeGlobal(dst.Global, src.Global)
	}
	if src.Crawling != nil {
		dst.Crawling = mergeCrawling(dst.Crawling, src.Crawling)
	}
	if src.Processing != nil {
		dst.Processing = cloneProcessing(src.Processing)
	}
	if src.Output != nil {
		dst.Output = mergeOutput(dst.Output, src.Output)
	}
	if src.Policies != nil {
		dst.Policies = mergePolicies(dst.Policies, src.Policies)
	}
	if src.Rollout != nil {
		dst.Rollout = cloneRollout(src.Rollout)
	}
	if src.Riptide != nil {
		dst.Riptide = mergeRiptide(dst.Riptide, src.Riptide)
	}
}

func mergeRiptide(dst, src *RiptideConfigSection) *RiptideConfigSection {
	out := &RiptideConfigSection{}
	if dst != nil {
		*out = *dst
	}
	if src.Gate != nil {
		cp := *src.Gate
		if src.Gate.ForceHeadlessDomains != nil {
			cp.ForceHeadlessDomains = append([]string(nil), src.Gate.ForceHeadlessDomains...)
		}
		out.Gate = &cp
	}
	if src.Pool != nil {
		cp := *src.Pool
		out.Pool = &cp
	}
	if src.Cache != nil {
		cp := *src.Cache
		out.Cache = &cp
	}
	if src.Frontier != nil {
		cp := *src.Frontier
		if src.Frontier.DenyPatterns != nil {
			cp.DenyPatterns = append([]string(nil), src.Frontier.DenyPatterns...)
		}
		out.Frontier = &cp
	}
	if src.Backpressure != nil {
		cp := *src.Backpressure
		out.Backpressure = &cp
	}
	if src.Render != nil {
		cp := *src.Render
		out.Render = &cp
	}
	return out
}

func mergeGlobal(dst, src *GlobalConfigSection) *GlobalConfigSection {
	out := &GlobalConfigSection{}
	if dst != nil {
		*out = *dst
	}
	if src.MaxConcurrency != 0 {
		out.MaxConcurrency = src.MaxConcurrency
	}
	if src.Timeout != 0 {
		out.Timeout = src.Timeout
	}
	if src.LoggingLevel != "" {
		out.LoggingLevel = src.LoggingLevel
	}
	if src.RetryPolicy != nil {
		cp := *src.RetryPolicy
		out.RetryPolicy = &cp
	}
	return out
}

func mergeCrawling(dst, src *CrawlingConfigSection) *CrawlingConfigSection {
	out := &CrawlingConfigSection{}
	if dst != nil {
		out.SiteRules = cloneSiteRules(dst.SiteRules)
		out.LinkRules = dst.LinkRules
		out.RateRules = dst.RateRules
	}
	if src.SiteRules != nil {
		if out.SiteRules == nil {
			out.SiteRules = map[string]*SiteCrawlerRule{}
		}
		for k, v := range cloneSiteRules(src.SiteRules) {
			out.SiteRules[k] = v
		}
	}
	if src.LinkRules != nil {
		cp := *src.LinkRules
		out.LinkRules = &cp
	}
	if src.RateRules != nil {
		out.RateRules = cloneRateRules(src.RateRules)
	}
	return out
}

func cloneSiteRules(m map[string]*SiteCrawlerRule) map[string]*SiteCrawlerRule {
	if m == nil {
		return nil
	}
	out := make(map[string]*SiteCrawlerRule, len(m))
	for k, v := range m {
		cp := *v
		if v.AllowedDomains != nil {
			cp.AllowedDomains = append([]string(nil), v.AllowedDomains...)
		}
		if v.Selectors != nil {
			cp.Selectors = append([]string(nil), v.Selectors...)
		}
		out[k] = &cp
	}
	return out
}

func cloneRateRules(r *RateLimitConfig) *RateLimitConfig {
	out := &RateLimitConfig{DefaultDelay: r.DefaultDelay}
	if r.SiteDelays != nil {
		out.SiteDelays = make(map[string]time.Duration, len(r.SiteDelays))
		for k, v := range r.SiteDelays {
			out.SiteDelays[k] = v
		}
	}
	return out
}

func cloneProcessing(p *ProcessingConfigSection) *ProcessingConfigSection {
	out := &ProcessingConfigSection{QualityThreshold: p.QualityThreshold}
	if p.ExtractionRules != nil {
		out.ExtractionRules = append([]string(nil), p.ExtractionRules...)
	}
	if p.ProcessingSteps != nil {
		out.ProcessingSteps = append([]string(nil), p.ProcessingSteps...)
	}
	if p.ConditionalActions != nil {
		out.ConditionalActions = make(map[string]string, len(p.ConditionalActions))
		for k, v := range p.ConditionalActions {
			out.ConditionalActions[k] = v
		}
	}
	return out
}

func mergeOutput(dst, src *OutputConfigSection) *OutputConfigSection {
	out := &OutputConfigSection{}
	if dst != nil {
		*out = *dst
	}
	if src.DefaultFormat != "" {
		out.DefaultFormat = src.DefaultFormat
	}
	out.Compression = src.Compression
	if src.RoutingRules != nil {
		if out.RoutingRules == nil {
			out.RoutingRules = map[string]string{}
		}
		for k, v := range src.RoutingRules {
			out.RoutingRules[k] = v
		}
	}
	if src.QualityGates != nil {
		out.QualityGates = append([]string(nil), src.QualityGates...)
	}
	return out
}

func mergePolicies(dst, src *PoliciesConfigSection) *PoliciesConfigSection {
	out := &PoliciesConfigSection{}
	if dst != nil {
		out.BusinessRules = dst.BusinessRules
		if dst.EnabledFlags != nil {
			out.EnabledFlags = make(map[string]bool, len(dst.EnabledFlags))
			for k, v := range dst.EnabledFlags {
				out.EnabledFlags[k] = v
			}
		}
	}
	if src.BusinessRules != nil {
		out.BusinessRules = make([]*PolicyRuleSpec, len(src.BusinessRules))
		for i, r := range src.BusinessRules {
			cp := *r
			out.BusinessRules[i] = &cp
		}
	}
	if src.EnabledFlags != nil {
		if out.EnabledFlags == nil {
			out.EnabledFlags = map[string]bool{}
		}
		for k, v := range src.EnabledFlags {
			out.EnabledFlags[k] = v
		}
	}
	return out
}

func cloneRollout(r *RolloutSpec) *RolloutSpec {
	out := &RolloutSpec{Mode: r.Mode, Percentage: r.Percentage}
	if r.CohortDomains != nil {
		out.CohortDomains = append([]string(nil), r.CohortDomains...)
	}
	if r.CohortDomainGlobs != nil {
		out.CohortDomainGlobs = append([]string(nil), r.CohortDomainGlobs...)
	}
	return out
}
