package controller

// Rolling upgrade events, recorded on the owning CephUpgrade resource.
const (
	EventReasonUpgradeStarted   = "UpgradeStarted"
	EventReasonUpgradeCompleted = "UpgradeCompleted"
	EventReasonUpgradePaused    = "UpgradePaused"
	EventReasonUpgradeResumed   = "UpgradeResumed"
	EventReasonUpgradeStopped   = "UpgradeStopped"
	EventReasonUpgradeFailed    = "UpgradeFailed"
	EventReasonReconcileFailed  = "ReconcileFailed"
)
