package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/support"
	"github.com/aws/aws-sdk-go-v2/service/wellarchitected"
	watypes "github.com/aws/aws-sdk-go-v2/service/wellarchitected/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/tara/internal/awsapi"
)

// LensAlias is the Well-Architected Framework lens.
const LensAlias = "wellarchitected"

// BestPracticeCheck links a Trusted Advisor check to the best practice it
// evidences, with the resources the check currently flags.
type BestPracticeCheck struct {
	CheckID                 string            `json:"TrustedAdvisorCheckId"`
	CheckName               string            `json:"TrustedAdvisorCheckName"`
	CheckDescription        string            `json:"TrustedAdvisorCheckDesc"`
	PillarID                string            `json:"WAPillarId"`
	QuestionID              string            `json:"WAQuestionId"`
	BestPracticeID          string            `json:"WABestPracticeId"`
	BestPracticeTitle       string            `json:"WABestPracticeTitle"`
	BestPracticeDescription string            `json:"WABestPracticeDesc"`
	Risk                    string            `json:"WABestPracticeRisk"`
	FlaggedResources        []FlaggedResource `json:"FlaggedResources"`
}

// FlaggedResource is one resource a check flags.
type FlaggedResource struct {
	ResourceID string   `json:"resourceId"`
	Region     string   `json:"region"`
	Status     string   `json:"status"`
	Metadata   []string `json:"metadata"`
}

// Identifier is the resource name shown in the report.
func (r FlaggedResource) Identifier() string {
	if len(r.Metadata) > 1 && r.Metadata[1] != "" {
		return r.Metadata[1]
	}
	return r.ResourceID
}

func discoveryConfig() *watypes.WorkloadDiscoveryConfig {
	return &watypes.WorkloadDiscoveryConfig{
		TrustedAdvisorIntegrationStatus: watypes.TrustedAdvisorIntegrationStatusEnabled,
		WorkloadResourceDefinition:      []watypes.DefinitionType{watypes.DefinitionTypeWorkloadMetadata},
	}
}

// mapChecks reads the check to best practice mapping from a temporary
// workload. The workload is removed even when the mapping fails.
func (h *Review) mapChecks(ctx context.Context) ([]BestPracticeCheck, error) {
	c, err := h.deps.Clients.For(ctx, h.deps.Config.MappingRegion)
	if err != nil {
		return nil, err
	}
	wa := c.WellArchitected

	created, err := wa.CreateWorkload(ctx, &wellarchitected.CreateWorkloadInput{
		WorkloadName:    aws.String("watemp-" + uuid.NewString()),
		Description:     aws.String("Temporary workload for check mapping"),
		Environment:     watypes.WorkloadEnvironmentPreproduction,
		Lenses:          []string{LensAlias},
		NonAwsRegions:   []string{"watemp"},
		ReviewOwner:     aws.String("watemp"),
		DiscoveryConfig: discoveryConfig(),
	})
	if err != nil {
		return nil, fmt.Errorf("create mapping workload: %w", err)
	}
	workloadID := aws.ToString(created.WorkloadId)
	defer func() {
		_, err := wa.DeleteWorkload(context.WithoutCancel(ctx), &wellarchitected.DeleteWorkloadInput{
			WorkloadId: aws.String(workloadID),
		})
		if err != nil {
			log.Warn().Ctx(ctx).Err(err).Str("workload", workloadID).Msg("failed to delete mapping workload")
		}
	}()

	wl, err := wa.GetWorkload(ctx, &wellarchitected.GetWorkloadInput{WorkloadId: aws.String(workloadID)})
	if err != nil {
		return nil, fmt.Errorf("get mapping workload: %w", err)
	}
	lenses := []string{LensAlias}
	if wl.Workload != nil && len(wl.Workload.Lenses) > 0 {
		lenses = wl.Workload.Lenses
	}

	type lensAnswers struct {
		arn     string
		answers []watypes.AnswerSummary
	}
	var all []lensAnswers
	for _, alias := range lenses {
		lens, err := wa.GetLens(ctx, &wellarchitected.GetLensInput{LensAlias: aws.String(alias)})
		if err != nil {
			return nil, fmt.Errorf("get lens %s: %w", alias, err)
		}
		la := lensAnswers{}
		if lens.Lens != nil {
			la.arn = aws.ToString(lens.Lens.LensArn)
		}
		if la.answers, err = listAnswers(ctx, wa, workloadID, alias); err != nil {
			return nil, err
		}
		all = append(all, la)
	}

	// Trusted Advisor discovery fills the workload asynchronously.
	if d := h.deps.Config.PopulateWait; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	var out []BestPracticeCheck
	for _, la := range all {
		for _, a := range la.answers {
			for _, choice := range a.Choices {
				details, err := listCheckDetails(ctx, wa, &wellarchitected.ListCheckDetailsInput{
					WorkloadId: aws.String(workloadID),
					LensArn:    aws.String(la.arn),
					PillarId:   a.PillarId,
					QuestionId: a.QuestionId,
					ChoiceId:   choice.ChoiceId,
				})
				if err != nil {
					return nil, err
				}
				if len(details) == 0 {
					continue
				}

				risk := h.risk(ctx, aws.ToString(a.PillarId), aws.ToString(choice.ChoiceId))
				for _, d := range details {
					out = append(out, BestPracticeCheck{
						CheckID:                 aws.ToString(d.Id),
						CheckName:               aws.ToString(d.Name),
						CheckDescription:        aws.ToString(d.Description),
						PillarID:                aws.ToString(a.PillarId),
						QuestionID:              aws.ToString(a.QuestionId),
						BestPracticeID:          aws.ToString(choice.ChoiceId),
						BestPracticeTitle:       aws.ToString(choice.Title),
						BestPracticeDescription: aws.ToString(choice.Description),
						Risk:                    risk,
					})
				}
			}
		}
	}
	log.Debug().Ctx(ctx).Int("mappings", len(out)).Msg("mapped trusted advisor checks")
	return out, nil
}

func (h *Review) risk(ctx context.Context, pillarID, choiceID string) string {
	if h.deps.Risk == nil {
		return RiskUnknown
	}
	return h.deps.Risk.Risk(ctx, pillarID, choiceID)
}

func listAnswers(ctx context.Context, wa awsapi.WellArchitectedAPI, workloadID, alias string) ([]watypes.AnswerSummary, error) {
	var out []watypes.AnswerSummary
	in := &wellarchitected.ListAnswersInput{WorkloadId: aws.String(workloadID), LensAlias: aws.String(alias)}
	for {
		page, err := wa.ListAnswers(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("list answers: %w", err)
		}
		out = append(out, page.AnswerSummaries...)
		if aws.ToString(page.NextToken) == "" {
			return out, nil
		}
		in.NextToken = page.NextToken
	}
}

func listCheckDetails(ctx context.Context, wa awsapi.WellArchitectedAPI, in *wellarchitected.ListCheckDetailsInput) ([]watypes.CheckDetail, error) {
	var out []watypes.CheckDetail
	for {
		page, err := wa.ListCheckDetails(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("list check details %s: %w", aws.ToString(in.ChoiceId), err)
		}
		out = append(out, page.CheckDetails...)
		if aws.ToString(page.NextToken) == "" {
			return out, nil
		}
		in.NextToken = page.NextToken
	}
}

// attachFlagged fills in each mapping's flagged resources and drops the
// mappings left with none. Results are fetched once per check.
func attachFlagged(ctx context.Context, client awsapi.SupportAPI, mapped []BestPracticeCheck, sc *resourceScope) []BestPracticeCheck {
	cache := make(map[string][]FlaggedResource)
	out := make([]BestPracticeCheck, 0, len(mapped))
	for _, m := range mapped {
		flagged, ok := cache[m.CheckID]
		if !ok {
			flagged = checkResult(ctx, client, m.CheckID)
			cache[m.CheckID] = flagged
		}

		for _, r := range flagged {
			if sc.admits(r) {
				m.FlaggedResources = append(m.FlaggedResources, r)
			}
		}
		if len(m.FlaggedResources) > 0 {
			out = append(out, m)
		}
	}
	return out
}

func checkResult(ctx context.Context, client awsapi.SupportAPI, checkID string) []FlaggedResource {
	res, err := client.DescribeTrustedAdvisorCheckResult(ctx, &support.DescribeTrustedAdvisorCheckResultInput{
		CheckId:  aws.String(checkID),
		Language: aws.String("en"),
	})
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("check", checkID).Msg("failed to describe check result")
		return nil
	}
	if res.Result == nil {
		return nil
	}

	out := make([]FlaggedResource, 0, len(res.Result.FlaggedResources))
	for _, r := range res.Result.FlaggedResources {
		out = append(out, FlaggedResource{
			ResourceID: aws.ToString(r.ResourceId),
			Region:     aws.ToString(r.Region),
			Status:     aws.ToString(r.Status),
			Metadata:   aws.ToStringSlice(r.Metadata),
		})
	}
	return out
}
