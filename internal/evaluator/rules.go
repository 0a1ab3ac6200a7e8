package evaluator

// 规则名（日志与指标标签）
const (
	RuleBoundary   = "boundary"
	RuleImmobility = "immobility"
	RuleActivity   = "activity"
	RuleHeat       = "heat"
)

// 规则阈值
const (
	ImmobilityWindowHours = 2
	ImmobilitySampleCount = 20
	ImmobilityMaxMeters   = 10.0

	ActivityWindowHours = 24
	LowActivityRatio    = 0.3
	LowActivityCeiling  = 20
	HighActivityRatio   = 2.0
	HighActivityFloor   = 80

	HeatWindowHours       = 72
	HeatActivityThreshold = 70
	HeatMinSamplesPerDay  = 5
	HeatMinDays           = 2
)
