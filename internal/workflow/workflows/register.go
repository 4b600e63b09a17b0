package workflows

import "github.com/openclaw/acct-agent/internal/workflow"

// RegisterAll wires every run_type named in spec.md §4.3's table into reg.
func RegisterAll(reg *workflow.Registry, d Deps) {
	reg.Register(BuildJournalSuggestion(d))
	reg.Register(BuildBankReconcile(d))
	reg.Register(BuildSoftChecks(d))
	reg.Register(BuildCashflowForecast(d))
	reg.Register(BuildTaxReport(d))
	reg.Register(BuildVoucherIngest(d))
	reg.Register(BuildVoucherClassify(d))
}
