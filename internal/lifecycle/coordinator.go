// Package lifecycle snapshots and deletes idle EBS volumes. A Trusted Advisor
// check notification starts a snapshot; the snapshot completion event,
// possibly hours later, finishes the job.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/config"
	"github.com/yairfalse/tara/internal/event"
	"github.com/yairfalse/tara/internal/notify"
	"github.com/yairfalse/tara/internal/store"
	"github.com/yairfalse/tara/internal/tags"
	"github.com/yairfalse/tara/internal/telemetry"
	"github.com/yairfalse/tara/internal/trail"
)

// HandlerName is the registry name of the idle volume handler.
const HandlerName = "ebs-idle-volume"

// Snapshot tags that carry provenance and the deletion decision.
const (
	TagSnapshotReason = "SnapshotReason"
	TagSnapshotDate   = "SnapshotDate"
	TagDeleteOnDone   = "DeleteEBSVolOnCompletion"
	ReasonIdleVolume  = "Idle Volume"
	SnapshotDesc      = "Snapshot of idle volume before deletion"
)

// Decisions reported in Outcome.
const (
	DecisionIgnored         = "ignored"
	DecisionSnapshotStarted = "snapshot_started"
	DecisionNotOurs         = "not_ours"
	DecisionSnapshotFailed  = "snapshot_failed"
	DecisionDeleted         = "deleted"
	DecisionDryRun          = "dry_run"
	DecisionRetained        = "retained"
	DecisionUnrouted        = "unrouted"
)

// Outcome describes what an invocation did.
type Outcome struct {
	Decision   string        `json:"decision"`
	Reason     string        `json:"reason,omitempty"`
	VolumeID   string        `json:"volume_id,omitempty"`
	Region     string        `json:"region,omitempty"`
	SnapshotID string        `json:"snapshot_id,omitempty"`
	Notify     *NotifyResult `json:"notify,omitempty"`
}

// Options configures a Coordinator.
type Options struct {
	Volume     config.VolumeConfig
	HomeRegion string
	Clients    awsapi.Source
	Regions    RegionEnsurer
	Store      store.Store
	Mailer     notify.Sender
	Account    AccountFunc
	Metrics    *telemetry.Metrics
	Now        func() time.Time
}

// Coordinator drives idle volumes from detection to deletion.
type Coordinator struct {
	cfg     config.VolumeConfig
	home    string
	clients awsapi.Source
	regions RegionEnsurer
	store   store.Store
	mailer  notify.Sender
	account AccountFunc
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewCoordinator creates a Coordinator. Store defaults to store.Nop and Now
// to time.Now.
func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		cfg:     opts.Volume,
		home:    opts.HomeRegion,
		clients: opts.Clients,
		regions: opts.Regions,
		store:   opts.Store,
		mailer:  opts.Mailer,
		account: opts.Account,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if c.store == nil {
		c.store = store.Nop{}
	}
	if c.mailer == nil {
		c.mailer = notify.NewMulti()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Name implements handler.Handler.
func (c *Coordinator) Name() string { return HandlerName }

// Handle implements handler.Handler. It unwraps SNS envelopes and routes on
// the event source.
func (c *Coordinator) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	payload := event.Unwrap(raw)

	switch src := event.Source(payload); src {
	case event.SourceTrustedAdvisor:
		chk, err := event.ParseCheck(payload)
		if err != nil {
			return nil, err
		}
		return c.HandleCheck(ctx, chk)

	case event.SourceEC2:
		snap, err := event.ParseSnapshotCompletion(payload)
		if err != nil {
			log.Error().Ctx(ctx).Err(err).Msg("ignoring snapshot event")
			return &Outcome{Decision: DecisionIgnored, Reason: err.Error()}, nil
		}
		return c.HandleSnapshotCompletion(ctx, snap)

	default:
		log.Info().Ctx(ctx).Str("source", src).Msg("ignoring event from unhandled source")
		return &Outcome{Decision: DecisionUnrouted, Reason: "source " + src}, nil
	}
}

// HandleCheck evaluates a volume flagged by the underutilized EBS volumes
// check and starts a snapshot when it is idle.
func (c *Coordinator) HandleCheck(ctx context.Context, chk *event.Check) (*Outcome, error) {
	fields, err := chk.Require("Volume ID", "Region")
	if err != nil {
		return nil, err
	}
	volumeID, region := fields[0], fields[1]
	out := &Outcome{VolumeID: volumeID, Region: region}

	logger := log.With().Str("volume_id", volumeID).Str("region", region).Logger()
	if cost := chk.Get("Monthly Storage Cost"); cost != "" {
		logger = logger.With().Str("monthly_cost", cost).Logger()
	}

	rc, err := c.clients.For(ctx, region)
	if err != nil {
		return nil, err
	}

	vol, err := describeVolume(ctx, rc.EC2, volumeID)
	if err != nil {
		logger.Error().Ctx(ctx).Err(err).Msg("failed to describe volume")
		return nil, err
	}

	now := c.now()
	volTags := tags.FromEC2(vol.Tags)

	ignore := func(reason string) (*Outcome, error) {
		logger.Info().Ctx(ctx).Str("reason", reason).Msg("volume ignored")
		telemetry.RecordDecisionEvent(trace.SpanFromContext(ctx), HandlerName, volumeID, DecisionIgnored, reason)
		c.record(ctx, &store.VolumeRecord{VolumeID: volumeID, Region: region, State: store.StateIgnored, Reason: reason})
		out.Decision = DecisionIgnored
		out.Reason = reason
		return out, nil
	}

	if len(vol.Attachments) > 0 {
		return ignore("attached")
	}

	if age := wholeDays(aws.ToTime(vol.CreateTime), now); age < c.cfg.IdleThreshDays {
		return ignore(fmt.Sprintf("%d days old, below threshold of %d", age, c.cfg.IdleThreshDays))
	}

	if c.cfg.IgnoreTag != "" && volTags.Matches(c.cfg.IgnoreTag, c.cfg.IgnoreTagVal) {
		return ignore("exception tag " + c.cfg.IgnoreTag)
	}

	events, err := trail.Lookup(ctx, rc.CloudTrail,
		trail.ByResource(volumeID, now.AddDate(0, 0, -c.cfg.IdleThreshDays), now))
	if err != nil {
		logger.Error().Ctx(ctx).Err(err).Msg("failed to read volume activity")
		return nil, err
	}
	activity := SummarizeActivity(events, now)
	logger.Debug().Int("attachment_events", activity.Events).Int("last_attached_days", activity.LastDays).Msg("volume activity")
	if activity.RecentlyActive(c.cfg.ActivityPolicy, c.cfg.IdleThreshDays) {
		return ignore(fmt.Sprintf("recently attached (%d days ago)", activity.LastDays))
	}

	if region != c.home && c.regions != nil {
		if err := c.regions.EnsureRegion(ctx, region); err != nil {
			logger.Error().Ctx(ctx).Err(err).Msg("could not set up cross-region support")
			return nil, fmt.Errorf("bootstrap region %s: %w", region, err)
		}
	}

	authorized := c.cfg.EnableActions
	snap, err := rc.EC2.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String(SnapshotDesc),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeSnapshot,
			Tags: tags.EC2(
				TagSnapshotReason, ReasonIdleVolume,
				TagSnapshotDate, now.UTC().Format("2006-01-02 15:04:05"),
				TagDeleteOnDone, boolTag(authorized),
			),
		}},
	})
	if err != nil {
		c.metrics.RecordAction(ctx, HandlerName, "CreateSnapshot", telemetry.OutcomeFailed)
		logger.Error().Ctx(ctx).Err(err).Msg("failed to create snapshot")
		return nil, fmt.Errorf("create snapshot of %s: %w", volumeID, err)
	}
	c.metrics.RecordAction(ctx, HandlerName, "CreateSnapshot", telemetry.OutcomeApplied)
	telemetry.RecordActionEvent(trace.SpanFromContext(ctx), HandlerName, volumeID, "CreateSnapshot", false)

	out.Decision = DecisionSnapshotStarted
	out.SnapshotID = aws.ToString(snap.SnapshotId)
	c.record(ctx, &store.VolumeRecord{
		VolumeID:         volumeID,
		Region:           region,
		State:            store.StatePendingSnapshot,
		DeleteAuthorized: authorized,
		SnapshotID:       out.SnapshotID,
	})

	logger.Info().Ctx(ctx).
		Str("snapshot_id", out.SnapshotID).
		Bool("delete_authorized", authorized).
		Msg("snapshot initiated, volume will be processed when it completes")
	return out, nil
}

// HandleSnapshotCompletion finishes an idle volume once its snapshot is done.
func (c *Coordinator) HandleSnapshotCompletion(ctx context.Context, snapEvt *event.SnapshotCompletion) (*Outcome, error) {
	volumeID, region, snapshotID := snapEvt.VolumeID, snapEvt.Region, snapEvt.SnapshotID
	out := &Outcome{VolumeID: volumeID, Region: region, SnapshotID: snapshotID}
	logger := log.With().Str("volume_id", volumeID).Str("region", region).Str("snapshot_id", snapshotID).Logger()

	rc, err := c.clients.For(ctx, region)
	if err != nil {
		return nil, err
	}

	snapTags, err := describeSnapshotTags(ctx, rc.EC2, snapshotID)
	if err != nil {
		logger.Error().Ctx(ctx).Err(err).Msg("failed to describe snapshot")
		return nil, err
	}

	if !snapTags.Matches(TagSnapshotReason, ReasonIdleVolume) {
		logger.Debug().Msg("snapshot not created for an idle volume")
		out.Decision = DecisionNotOurs
		return out, nil
	}

	if !snapEvt.Succeeded() {
		logger.Error().Ctx(ctx).Str("result", snapEvt.Result).Msg("idle volume snapshot did not succeed")
		c.record(ctx, &store.VolumeRecord{
			VolumeID:   volumeID,
			Region:     region,
			State:      store.StateSnapshotFailed,
			SnapshotID: snapshotID,
			Reason:     "snapshot result " + snapEvt.Result,
		})
		out.Decision = DecisionSnapshotFailed
		out.Reason = snapEvt.Result
		return out, nil
	}

	authorized := c.deleteAuthorized(ctx, region, volumeID, snapshotID, snapTags)
	owner := c.resolveOwner(ctx, rc.EC2, volumeID)

	deleted := false
	if authorized {
		c.record(ctx, &store.VolumeRecord{
			VolumeID:         volumeID,
			Region:           region,
			State:            store.StatePendingDelete,
			DeleteAuthorized: true,
			SnapshotID:       snapshotID,
		})

		dryRun := !c.cfg.EnableActions
		_, err := rc.EC2.DeleteVolume(ctx, &ec2.DeleteVolumeInput{
			VolumeId: aws.String(volumeID),
			DryRun:   aws.Bool(dryRun),
		})
		switch {
		case err == nil:
			deleted = true
			out.Decision = DecisionDeleted
			c.metrics.RecordAction(ctx, HandlerName, "DeleteVolume", telemetry.OutcomeApplied)
			logger.Info().Ctx(ctx).Msg("idle volume deleted")
		case awsapi.IsDryRun(err):
			out.Decision = DecisionDryRun
			c.metrics.RecordAction(ctx, HandlerName, "DeleteVolume", telemetry.OutcomeDryRun)
			logger.Info().Ctx(ctx).Msg("dry run: idle volume would have been deleted")
		default:
			c.metrics.RecordAction(ctx, HandlerName, "DeleteVolume", telemetry.OutcomeFailed)
			logger.Error().Ctx(ctx).Err(err).Msg("failed to delete idle volume")
			return nil, fmt.Errorf("delete volume %s: %w", volumeID, err)
		}
		telemetry.RecordActionEvent(trace.SpanFromContext(ctx), HandlerName, volumeID, "DeleteVolume", dryRun)
	} else {
		out.Decision = DecisionRetained
		logger.Info().Ctx(ctx).Msg("snapshot did not authorize deletion, volume retained")
	}

	rec := &store.VolumeRecord{
		VolumeID:         volumeID,
		Region:           region,
		State:            store.StateRetained,
		DeleteAuthorized: authorized,
		SnapshotID:       snapshotID,
		Reason:           out.Decision,
	}
	if deleted {
		rec.State = store.StateDeleted
	}
	c.record(ctx, rec)

	res := c.sendNotices(ctx, owner, volumeNotice{
		account:    c.accountID(ctx),
		region:     region,
		volumeID:   volumeID,
		snapshotID: snapshotID,
		threshDays: c.cfg.IdleThreshDays,
		deleted:    deleted,
	})
	out.Notify = &res
	return out, nil
}

// deleteAuthorized returns the decision fixed when the snapshot was created.
// The state record wins when it describes this snapshot; otherwise the
// snapshot tag is parsed.
func (c *Coordinator) deleteAuthorized(ctx context.Context, region, volumeID, snapshotID string, snapTags tags.Set) bool {
	rec, err := c.store.GetVolume(ctx, region, volumeID)
	switch {
	case err == nil && rec.SnapshotID == snapshotID:
		return rec.DeleteAuthorized
	case err != nil && !errors.Is(err, store.ErrNotFound):
		log.Warn().Ctx(ctx).Err(err).Str("volume_id", volumeID).Msg("failed to read volume record, using snapshot tag")
	}

	authorized, ok := snapTags.Bool(TagDeleteOnDone)
	return ok && authorized
}

// resolveOwner reads the owner address from the volume. It must run before
// the volume is deleted.
func (c *Coordinator) resolveOwner(ctx context.Context, client awsapi.EC2API, volumeID string) string {
	if c.cfg.MailtoOwnerTag == "" {
		return ""
	}
	vol, err := describeVolume(ctx, client, volumeID)
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("volume_id", volumeID).Msg("failed to read volume owner")
		return ""
	}
	owner, _ := tags.FromEC2(vol.Tags).Get(c.cfg.MailtoOwnerTag)
	return owner
}

func (c *Coordinator) accountID(ctx context.Context) string {
	if c.account == nil {
		return "unknown"
	}
	id, err := c.account(ctx)
	if err != nil || id == "" {
		return "unknown"
	}
	return id
}

// record persists a lifecycle record. Failures are logged and do not change
// the outcome.
func (c *Coordinator) record(ctx context.Context, rec *store.VolumeRecord) {
	rec.UpdatedAt = c.now().UTC()
	if err := c.store.PutVolume(ctx, rec); err != nil {
		log.Warn().Ctx(ctx).Err(err).
			Str("volume_id", rec.VolumeID).
			Str("state", string(rec.State)).
			Msg("failed to persist volume state")
	}
	c.metrics.RecordTransition(ctx, string(rec.State), rec.Region)
}

func describeVolume(ctx context.Context, client awsapi.EC2API, volumeID string) (*ec2types.Volume, error) {
	out, err := client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: []string{volumeID}})
	if err != nil {
		return nil, fmt.Errorf("describe volume %s: %w", volumeID, err)
	}
	if len(out.Volumes) == 0 {
		return nil, fmt.Errorf("describe volume %s: not found", volumeID)
	}
	return &out.Volumes[0], nil
}

func describeSnapshotTags(ctx context.Context, client awsapi.EC2API, snapshotID string) (tags.Set, error) {
	out, err := client.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{SnapshotIds: []string{snapshotID}})
	if err != nil {
		return nil, fmt.Errorf("describe snapshot %s: %w", snapshotID, err)
	}
	if len(out.Snapshots) == 0 {
		return tags.Set{}, nil
	}
	return tags.FromEC2(out.Snapshots[0].Tags), nil
}

// boolTag renders a flag in the capitalized form snapshot tags use.
func boolTag(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
