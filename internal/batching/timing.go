package batching

import (
	"math"
	"time"
)

const adaptiveLookback = 30 * time.Minute

// calculateOptimalDelay picks a delivery delay for msg. More recent traffic
// on the channel means a longer delay so messages batch together.
func (b *SmartMessageBatcher) calculateOptimalDelay(st *channelState, msg *BatchableMessage, spam SpamPreventionConfig, timing TimingConfig, now time.Time) time.Duration {
	if timing.Mode == TimingImmediate {
		return 0
	}
	if override, ok := timing.PriorityOverrides[msg.Priority]; ok {
		return override
	}

	maxDelay := timing.maxFor(msg.Priority)
	m := st.activity

	switch timing.Mode {
	case TimingFixedInterval:
		return minDuration(timing.BaseInterval, maxDelay)

	case TimingAdaptive:
		if !spam.enabled(StrategyAdaptiveTiming) {
			return minDuration(timing.BaseInterval, maxDelay)
		}
		activity := float64(m.recent.countSince(now.Add(-adaptiveLookback)))
		scale := 1 + math.Min(activity/10, 3.0)*timing.AdaptiveFactor
		delay := time.Duration(float64(timing.BaseInterval) * scale)
		delay = minDuration(delay, maxDelay)
		if delay < timing.MinInterval {
			delay = minDuration(timing.MinInterval, maxDelay)
		}
		if delay > timing.BaseInterval {
			b.stats.adaptive.Add(1)
		}
		return delay

	case TimingSmartBurst:
		if (m.InCooldown && now.Before(m.CooldownUntil)) || m.CurrentBurstSize > 2 {
			return maxDelay
		}
		if m.burstSince(now.Add(-time.Hour)) > 0 {
			return minDuration(2*timing.BaseInterval, maxDelay)
		}
		return timing.BaseInterval

	default:
		return minDuration(timing.BaseInterval, maxDelay)
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
