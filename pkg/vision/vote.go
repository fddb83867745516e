package vision

import "math"

// ConsistencyVote 尺度/方向一致性投票
//
// 按方向差分箱，取计数最多的箱（并列取下标最小者），计算箱内平均尺度比，
// 只保留该箱内尺度比在容差范围内的对应。返回新切片，输入不被修改。
// 未启用时所有对应均标记为有效。
func ConsistencyVote(query, target []Keypoint, corrs []Correspondence, cfg VoteConfig) []Correspondence {
	out := make([]Correspondence, len(corrs))
	copy(out, corrs)
	if !cfg.Enabled || cfg.Bins <= 0 {
		for i := range out {
			out[i].Valid = true
		}
		return out
	}

	binWidth := 360.0 / float64(cfg.Bins)
	bins := make([]int, len(out))
	ratios := make([]float64, len(out))
	counts := make([]int, cfg.Bins)

	for i := range out {
		out[i].Valid = false
		bins[i] = -1
		c := out[i]
		if c.QueryIndex < 0 || c.QueryIndex >= len(query) || c.TargetIndex < 0 || c.TargetIndex >= len(target) {
			continue
		}
		q, t := query[c.QueryIndex], target[c.TargetIndex]
		if q.Scale <= 0 {
			continue
		}
		delta := math.Mod(float64(t.Orientation)-float64(q.Orientation), 360)
		if delta < 0 {
			delta += 360
		}
		b := int(delta / binWidth)
		if b >= cfg.Bins {
			b = cfg.Bins - 1
		}
		bins[i] = b
		ratios[i] = float64(t.Scale) / float64(q.Scale)
		counts[b]++
	}

	dominant, best := -1, 0
	for b, n := range counts {
		if n > best {
			dominant, best = b, n
		}
	}
	if dominant < 0 {
		return out
	}

	var sum float64
	for i, b := range bins {
		if b == dominant {
			sum += ratios[i]
		}
	}
	mean := sum / float64(best)
	tol := cfg.ScaleTolerance * mean

	for i, b := range bins {
		if b == dominant && math.Abs(ratios[i]-mean) <= tol {
			out[i].Valid = true
		}
	}
	return out
}
