package remediate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/event"
)

// RDS termination methods.
const (
	TerminateStop   = "stop"
	TerminateDelete = "delete"
)

// RDSIdle stops or deletes DB instances with no connections for at least
// the configured number of days.
type RDSIdle struct{ d Deps }

// NewRDSIdle creates the rds-idle handler.
func NewRDSIdle(d Deps) *RDSIdle { return &RDSIdle{d: d} }

// Name implements handler.Handler.
func (h *RDSIdle) Name() string { return "rds-idle" }

// Handle implements handler.Handler.
func (h *RDSIdle) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	chk, err := parseCheck(raw)
	if err != nil {
		return nil, err
	}
	f, err := chk.Require("Region", "DB Instance Name", "Days Since Last Connection")
	if err != nil {
		return nil, err
	}
	region, name := f[0], f[1]

	days, err := strconv.Atoi(strings.TrimRight(f[2], "+"))
	if err != nil {
		return nil, fmt.Errorf("%w: days since last connection %q", event.ErrMalformed, f[2])
	}

	cfg := h.d.Config
	if days < cfg.RDSMinAgeDays {
		return skipped(h.Name(), name, fmt.Sprintf(
			"database instance %s does not meet the minimum threshold for termination", name)), nil
	}

	r := &Result{Handler: h.Name(), Resource: name}
	var call func(ctx context.Context, client awsapi.RDSAPI) error
	switch cfg.RDSTermination {
	case TerminateDelete:
		snapshot := name + "-final-snapshot"
		r.Action = "DeleteDBInstance"
		r.Message = fmt.Sprintf("Database instance %s has been deleted.\nFinal snapshot: %s", name, snapshot)
		call = func(ctx context.Context, client awsapi.RDSAPI) error {
			_, err := client.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
				DBInstanceIdentifier:      aws.String(name),
				FinalDBSnapshotIdentifier: aws.String(snapshot),
			})
			return err
		}
	default:
		r.Action = "StopDBInstance"
		r.Message = fmt.Sprintf("Database instance %s has been stopped.", name)
		call = func(ctx context.Context, client awsapi.RDSAPI) error {
			_, err := client.StopDBInstance(ctx, &rds.StopDBInstanceInput{
				DBInstanceIdentifier: aws.String(name),
			})
			return err
		}
	}

	if !cfg.EnableActions {
		return h.d.reportOnly(ctx, r), nil
	}

	rc, err := h.d.clients(ctx, region)
	if err != nil {
		return nil, err
	}
	res, err := h.d.finish(ctx, r, false, call(ctx, rc.RDS))
	if err != nil {
		return nil, err
	}

	subject := fmt.Sprintf("RDS Idle Database Termination Notification (%s)", h.d.account(chk))
	if err := h.d.publish(ctx, subject, r.Message); err != nil {
		log.Warn().Ctx(ctx).Err(err).Str("db_instance", name).Msg("failed to send notification")
	}
	return res, nil
}
