package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/tara/internal/notify"
)

// NotifyResult reports the outcome of the owner and ops emails. Delivery
// failures are recorded here and never returned as errors.
type NotifyResult struct {
	Owner     string `json:"owner,omitempty"`
	OwnerSent bool   `json:"owner_sent"`
	OwnerErr  string `json:"owner_error,omitempty"`
	Ops       string `json:"ops,omitempty"`
	OpsSent   bool   `json:"ops_sent"`
	OpsErr    string `json:"ops_error,omitempty"`
}

type volumeNotice struct {
	account    string
	region     string
	volumeID   string
	snapshotID string
	threshDays int
	deleted    bool
}

const restoreDocs = "https://docs.aws.amazon.com/AWSEC2/latest/UserGuide/ebs-restoring-volume.html"

func (n volumeNotice) subject() string {
	if n.deleted {
		return "Idle EBS Volume Deleted"
	}
	return "Idle EBS Volume Snapshotted"
}

func (n volumeNotice) body() string {
	var b strings.Builder
	if n.deleted {
		fmt.Fprintf(&b, "The following EBS volume in region %s has been unattached for more than %d days. "+
			"The volume has been snapshotted and deleted. Please use the instructions below to recover the volume "+
			"if the data is needed in the future: <br> <br>\n", n.region, n.threshDays)
	} else {
		fmt.Fprintf(&b, "The following EBS volume in region %s has been unattached for more than %d days. "+
			"The volume has been snapshotted and was not deleted. Review whether it is still needed: <br> <br>\n",
			n.region, n.threshDays)
	}
	fmt.Fprintf(&b, "<b>Account ID:</b> %s<br>\n", n.account)
	fmt.Fprintf(&b, "<b>Region: </b> %s<br>\n", n.region)
	fmt.Fprintf(&b, "<b>Volume ID:</b> %s<br>\n", n.volumeID)
	fmt.Fprintf(&b, "<b>Snapshot ID:</b> %s\n<br>\n", n.snapshotID)
	fmt.Fprintf(&b, "<p>To recover this volume, create a new volume from the snapshot. "+
		"See <a href='%s'>AWS Documentation</a> for more information.</p>\n", restoreDocs)
	fmt.Fprintf(&b, "<p>Note: idle (unattached) EBS volumes are billed based on the allocated volume size. "+
		"Volumes that have been idle for more than %d days will be snapshotted and deleted per corporate Cloud governance policy.",
		n.threshDays)
	return b.String()
}

func (n volumeNotice) message(to string) notify.Message {
	body := n.body()
	return notify.Message{
		To:      []string{to},
		Subject: n.subject(),
		Text:    body,
		HTML:    body,
	}
}

// sendNotices emails the owner and the ops address independently.
func (c *Coordinator) sendNotices(ctx context.Context, owner string, n volumeNotice) NotifyResult {
	res := NotifyResult{Owner: owner, Ops: c.cfg.MailTo}

	if owner != "" {
		if err := c.mailer.Send(ctx, n.message(owner)); err != nil {
			res.OwnerErr = err.Error()
			log.Warn().Ctx(ctx).Err(err).Str("volume_id", n.volumeID).Msg("failed to email volume owner")
		} else {
			res.OwnerSent = true
		}
	}

	if c.cfg.MailTo != "" {
		if err := c.mailer.Send(ctx, n.message(c.cfg.MailTo)); err != nil {
			res.OpsErr = err.Error()
			log.Warn().Ctx(ctx).Err(err).Str("volume_id", n.volumeID).Msg("failed to email ops address")
		} else {
			res.OpsSent = true
		}
	}

	return res
}
