package backend

// Dashboard API paths consumed by the console.
const (
	PathMetrics         = "/dashboard/metrics"
	PathAlerts          = "/dashboard/alerts"
	PathInsights        = "/dashboard/insights"
	PathHealth          = "/dashboard/health"
	PathDataSources     = "/dashboard/data-sources"
	PathSettings        = "/dashboard/settings"
	PathRiskAssessments = "/risk/assessments"
	PathCompliance      = "/compliance/status"
	PathReports         = "/reports"
	PathReportsGenerate = "/reports/generate"
	PathUsers           = "/users"
)
