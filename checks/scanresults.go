package checks

import (
	"context"

	"github.com/stratumsec/warden/providers/aws"
	"github.com/stratumsec/warden/telemetry"
	"github.com/stratumsec/warden/types"
)

// ScanAggregator folds external vulnerability-scan findings into
// per-instance vulnerability records. It runs in scheduled-scan mode
// only (the definition's modes gate that).
type ScanAggregator struct {
	scans  ScanLister
	logger *telemetry.Logger
}

// NewScanAggregator creates the handler.
func NewScanAggregator(scans ScanLister) *ScanAggregator {
	return &ScanAggregator{
		scans:  scans,
		logger: telemetry.NewLogger("scan-aggregator"),
	}
}

// Evaluate paginates the scan-results API and groups findings by
// affected instance. A failure at any page reports no findings rather
// than partial results.
func (c *ScanAggregator) Evaluate(ctx context.Context, in Input) (Result, error) {
	findings, err := c.scans.ListAll(ctx)
	if err != nil {
		c.logger.WithContext(ctx).Error().
			Err(err).
			Msg("scan aggregation aborted, reporting no findings")
		return Result{}, nil
	}

	byInstance := groupByInstance(findings)

	var vulns []types.Vulnerability
	for instanceID, instanceFindings := range byInstance {
		for _, f := range instanceFindings {
			vulns = append(vulns, types.Vulnerability{
				ID:          types.VulnerabilityID("scan", instanceID+":"+f.Title),
				Title:       f.Title,
				Description: f.Description,
				Severity:    f.Severity,
				Score:       types.SeverityScore(f.Severity),
				ResourceID:  instanceID,
			})
		}
	}
	return Result{Vulnerabilities: vulns}, nil
}

func groupByInstance(findings []aws.ScanFinding) map[string][]aws.ScanFinding {
	grouped := make(map[string][]aws.ScanFinding)
	for _, f := range findings {
		grouped[f.InstanceID] = append(grouped[f.InstanceID], f)
	}
	return grouped
}
