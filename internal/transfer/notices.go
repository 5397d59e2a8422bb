package transfer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/erazemk/squire/internal/model"
)

// parties names the people and things a transfer notice talks about.
type parties struct {
	Sender string
	Source string
	Target string
	Item   string
}

func (c *Coordinator) describe(ctx context.Context, req *model.TransferRequest) parties {
	p := parties{
		Sender: fmt.Sprintf("user #%d", req.SourceUserID),
		Source: fmt.Sprintf("actor #%d", req.SourceActorID),
		Target: fmt.Sprintf("actor #%d", req.TargetActorID),
		Item:   req.ItemName,
	}
	if req.HasQuantity {
		p.Item = fmt.Sprintf("%d× %s", req.Quantity, req.ItemName)
	}

	if u, err := c.directory.User(ctx, req.SourceUserID); err == nil && u != nil {
		p.Sender = u.Username
	}
	if a, err := c.inventory.Actor(ctx, req.SourceActorID); err == nil && a != nil {
		p.Source = a.Name
	}
	if a, err := c.inventory.Actor(ctx, req.TargetActorID); err == nil && a != nil {
		p.Target = a.Name
	}
	return p
}

// audience merges recipient lists, dropping zero ids and duplicates so that
// nobody gets the same notice twice.
func audience(groups ...[]int64) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, g := range groups {
		for _, id := range g {
			if id == 0 || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// without returns ids minus the ones in drop.
func without(ids []int64, drop []int64) []int64 {
	skip := make(map[int64]bool, len(drop))
	for _, id := range drop {
		skip[id] = true
	}
	var out []int64
	for _, id := range ids {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}

// receivers returns the users who may accept a transfer into the target
// actor. Targets without player owners are handled by the relay accounts.
func (c *Coordinator) receivers(ctx context.Context, req *model.TransferRequest) ([]int64, error) {
	target, err := c.inventory.Actor(ctx, req.TargetActorID)
	if err != nil {
		return nil, fmt.Errorf("loading target actor: %w", err)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: actor %d", ErrNotFound, req.TargetActorID)
	}

	relays, err := c.directory.RelayUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing relay users: %w", err)
	}
	owners, err := c.directory.ActorOwners(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("listing target owners: %w", err)
	}

	owners = without(owners, relays)
	if len(owners) == 0 {
		return relays, nil
	}
	return owners, nil
}

// completionAudience is every owner of either actor plus the relay accounts.
func (c *Coordinator) completionAudience(ctx context.Context, req *model.TransferRequest) []int64 {
	relays, err := c.directory.RelayUsers(ctx)
	if err != nil {
		slog.Warn("failed to list relay users for notice", "transfer", req.ID, "error", err)
	}

	var sourceOwners, targetOwners []int64
	if a, err := c.inventory.Actor(ctx, req.SourceActorID); err == nil && a != nil {
		sourceOwners, _ = c.directory.ActorOwners(ctx, a)
	}
	if a, err := c.inventory.Actor(ctx, req.TargetActorID); err == nil && a != nil {
		targetOwners, _ = c.directory.ActorOwners(ctx, a)
	}

	return audience(without(sourceOwners, relays), without(targetOwners, relays), relays)
}

// partyAudience is the sender, the receivers and the relay accounts.
func (c *Coordinator) partyAudience(ctx context.Context, req *model.TransferRequest) []int64 {
	receivers, err := c.receivers(ctx, req)
	if err != nil {
		slog.Warn("failed to resolve receivers for notice", "transfer", req.ID, "error", err)
	}
	relays, err := c.directory.RelayUsers(ctx)
	if err != nil {
		slog.Warn("failed to list relay users for notice", "transfer", req.ID, "error", err)
	}
	return audience([]int64{req.SourceUserID}, receivers, relays)
}

func (c *Coordinator) notify(ctx context.Context, req *model.TransferRequest, kind model.NoticeKind, title, body string, recipients []int64, actions ...string) error {
	recipients = audience(recipients)
	if len(recipients) == 0 {
		slog.Warn("notice has no recipients", "transfer", req.ID, "kind", kind)
		return nil
	}
	_, err := c.notifier.Send(ctx, model.NoticeDraft{
		CorrelationID: req.ID,
		Kind:          kind,
		Title:         title,
		Body:          body,
		Actions:       actions,
		Recipients:    recipients,
	})
	if err != nil {
		return fmt.Errorf("sending %s notice: %w", kind, err)
	}
	return nil
}

func waitingText(p parties, approvalRequired bool) (string, string) {
	if approvalRequired {
		return "Waiting for GM approval",
			fmt.Sprintf("Waiting for GM approval to give %s from %s to %s.", p.Item, p.Source, p.Target)
	}
	return "Waiting for receiver to accept",
		fmt.Sprintf("Waiting for %s to accept %s from %s.", p.Target, p.Item, p.Source)
}

func approvedText(p parties) (string, string) {
	return "GM approved, waiting for receiver",
		fmt.Sprintf("The GM approved giving %s to %s. Waiting for the receiver to accept.", p.Item, p.Target)
}

func approvalRequestText(p parties) (string, string) {
	return "Transfer approval requested",
		fmt.Sprintf("%s wants to give %s from %s to %s.", p.Sender, p.Item, p.Source, p.Target)
}

func transferRequestText(p parties) (string, string) {
	return "Incoming transfer",
		fmt.Sprintf("%s offers %s to %s.", p.Source, p.Item, p.Target)
}

func completedText(p parties) (string, string) {
	return "Transfer complete",
		fmt.Sprintf("%s moved from %s to %s.", p.Item, p.Source, p.Target)
}

func rejectedText(p parties, decider string) (string, string) {
	return "Transfer rejected",
		fmt.Sprintf("%s rejected %s from %s to %s.", decider, p.Item, p.Source, p.Target)
}

func deniedText(p parties) (string, string) {
	return "Transfer denied",
		fmt.Sprintf("The GM denied giving %s from %s to %s.", p.Item, p.Source, p.Target)
}

func expiredText(p parties) (string, string) {
	return "Transfer expired",
		fmt.Sprintf("The offer of %s from %s to %s expired.", p.Item, p.Source, p.Target)
}

func failedText(p parties, reason error) (string, string) {
	return "Transfer failed",
		fmt.Sprintf("Giving %s from %s to %s failed: %v.", p.Item, p.Source, p.Target, reason)
}
