package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/inspector"
	inspectortypes "github.com/aws/aws-sdk-go-v2/service/inspector/types"

	"github.com/stratumsec/warden/retry"
)

// findingsPageSize bounds one page of the token-paginated listing.
const findingsPageSize = 100

// ScanFinding is one localized scan result.
type ScanFinding struct {
	InstanceID  string
	Title       string
	Description string
	Severity    string
}

// ScanResults paginates the external vulnerability-scan API and expands
// findings into human-readable text.
type ScanResults struct {
	api    InspectorAPI
	policy retry.Policy
}

// NewScanResults creates the wrapper.
func NewScanResults(api InspectorAPI) *ScanResults {
	return &ScanResults{api: api, policy: defaultPolicy()}
}

// ListAll walks the token-paginated findings until no continuation
// token remains. A failure at any page is returned to the caller, which
// must report "no findings" rather than partial results.
func (sr *ScanResults) ListAll(ctx context.Context) ([]ScanFinding, error) {
	var findings []ScanFinding
	var nextToken *string

	for {
		token := nextToken
		page, err := retry.Do(ctx, sr.policy, func() (*inspector.ListFindingsOutput, error) {
			return sr.api.ListFindings(ctx, &inspector.ListFindingsInput{
				MaxResults: awssdk.Int32(findingsPageSize),
				NextToken:  token,
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list scan findings: %w", err)
		}

		if len(page.FindingArns) > 0 {
			localized, err := sr.describe(ctx, page.FindingArns)
			if err != nil {
				return nil, err
			}
			findings = append(findings, localized...)
		}

		if page.NextToken == nil {
			return findings, nil
		}
		nextToken = page.NextToken
	}
}

// describe expands finding ARNs into localized, human-readable records.
func (sr *ScanResults) describe(ctx context.Context, arns []string) ([]ScanFinding, error) {
	out, err := retry.Do(ctx, sr.policy, func() (*inspector.DescribeFindingsOutput, error) {
		return sr.api.DescribeFindings(ctx, &inspector.DescribeFindingsInput{
			FindingArns: arns,
			Locale:      inspectortypes.LocaleEnUs,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe scan findings: %w", err)
	}

	findings := make([]ScanFinding, 0, len(out.Findings))
	for _, f := range out.Findings {
		finding := ScanFinding{
			Title:       toString(f.Title),
			Description: toString(f.Description),
			Severity:    string(f.Severity),
		}
		if f.AssetAttributes != nil {
			finding.InstanceID = toString(f.AssetAttributes.AgentId)
		}
		findings = append(findings, finding)
	}
	return findings, nil
}
