package vfs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"zmfs/internal/connection"
	"zmfs/internal/dsname"
	"zmfs/internal/metrics"
)

// ReplaceOutcome is the result of checking a copy destination.
type ReplaceOutcome int

const (
	// NotFound means the destination does not exist yet.
	NotFound ReplaceOutcome = iota
	// Replace means the destination exists and replacing it was confirmed.
	Replace
	// Cancel means the destination exists and replacing it was declined.
	Cancel
)

func (o ReplaceOutcome) String() string {
	switch o {
	case NotFound:
		return "not-found"
	case Replace:
		return "replace"
	case Cancel:
		return "cancel"
	}
	return "unknown"
}

// ItemContext tags what a clipboard item was copied from.
type ItemContext int

const (
	ContextContainer ItemContext = iota
	ContextMember
	ContextSequential
)

func (c ItemContext) String() string {
	switch c {
	case ContextContainer:
		return "pds"
	case ContextMember:
		return "member"
	case ContextSequential:
		return "ds"
	}
	return "unknown"
}

// ClipboardItem identifies a copied object.
type ClipboardItem struct {
	Profile string      `json:"profile"`
	Dataset string      `json:"dataset"`
	Member  string      `json:"member,omitempty"`
	Context ItemContext `json:"context"`
}

// RemoteName is DS or DS(MEMBER).
func (c ClipboardItem) RemoteName() string {
	return connection.QualifiedName(c.Dataset, c.Member)
}

// URI is the virtual path of the item.
func (c ClipboardItem) URI() string {
	return Join(c.Profile, c.Dataset, c.Member)
}

// Clip builds a clipboard item for uri.
func (p *Provider) Clip(ctx context.Context, uri string) (ClipboardItem, error) {
	addr, err := Parse(uri)
	if err != nil {
		return ClipboardItem{}, err
	}
	if addr.IsProfileRoot() {
		return ClipboardItem{}, fmt.Errorf("cannot copy profile root %s", addr)
	}
	e, err := p.resolve(ctx, addr)
	if err != nil {
		return ClipboardItem{}, err
	}

	item := ClipboardItem{Profile: addr.Profile}
	container, leaf := addr.SplitPath()
	switch {
	case e.Kind == KindContainer:
		item.Dataset, item.Context = leaf, ContextContainer
	case container != "":
		item.Dataset, item.Member, item.Context = container, leaf, ContextMember
	default:
		item.Dataset, item.Context = leaf, ContextSequential
	}
	return item, nil
}

// Prompter supplies user decisions for copy and paste. An empty name means
// the user cancelled.
type Prompter interface {
	DestinationName(ctx context.Context, item ClipboardItem) (string, error)
	MemberName(ctx context.Context, item ClipboardItem) (string, error)
	ConfirmReplace(ctx context.Context, name string) (bool, error)
}

// Copier copies data sets and pastes members without silently overwriting
// existing objects.
type Copier struct {
	p      *Provider
	prompt Prompter
	report Reporter
	log    *zap.Logger
}

func NewCopier(p *Provider, prompt Prompter, report Reporter) *Copier {
	return &Copier{p: p, prompt: prompt, report: report, log: p.log.Named("copy")}
}

func (c *Copier) fail(report Reporter, name string, err error) bool {
	c.log.Warn("copy failed", zap.String("name", name), zap.Error(err))
	if report != nil {
		report.ItemFailed(name, err)
	}
	metrics.RecordItem("copy", false)
	return false
}

// outcome checks whether DS or DS(MEMBER) exists and, if so, asks whether
// to replace it.
func (c *Copier) outcome(ctx context.Context, conn connection.Connection, dataset, member string) (ReplaceOutcome, error) {
	var exists bool
	var err error
	if member == "" {
		exists, err = datasetExists(ctx, conn, dataset)
	} else {
		exists, err = memberExists(ctx, conn, dataset, member)
	}
	if err != nil {
		return Cancel, err
	}
	if !exists {
		return NotFound, nil
	}
	return c.confirm(ctx, connection.QualifiedName(dataset, member))
}

func (c *Copier) confirm(ctx context.Context, name string) (ReplaceOutcome, error) {
	ok, err := c.prompt.ConfirmReplace(ctx, name)
	if err != nil {
		return Cancel, err
	}
	if ok {
		return Replace, nil
	}
	return Cancel, nil
}

// CopyDatasets copies partitioned and sequential data sets to names chosen
// through the Prompter, one at a time.
func (c *Copier) CopyDatasets(ctx context.Context, items []ClipboardItem) (*BatchResult, error) {
	res := &BatchResult{Total: len(items)}
	report := tee{c.report, res}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outcome, ok, err := c.copyDataset(ctx, item, report)
		if err != nil {
			return res, err
		}
		switch {
		case outcome == Cancel:
			res.Cancelled++
		case ok:
			res.Succeeded++
		}
	}
	c.log.Info("copy batch finished", zap.Stringer("result", res))
	return res, nil
}

func (c *Copier) copyDataset(ctx context.Context, item ClipboardItem, report Reporter) (ReplaceOutcome, bool, error) {
	if item.Context == ContextMember {
		return Cancel, false, fmt.Errorf("cannot copy member %s as a data set; paste it into a data set", item.RemoteName())
	}

	name, err := c.prompt.DestinationName(ctx, item)
	if err != nil {
		return Cancel, false, err
	}
	if name == "" {
		return Cancel, false, nil
	}
	name = dsname.Normalize(name)
	if err := dsname.ValidateDataset(name); err != nil {
		return NotFound, c.fail(report, name, err), nil
	}

	conn, err := c.p.conn(ctx, item.Profile)
	if err != nil {
		return NotFound, c.fail(report, name, err), nil
	}

	outcome, err := c.outcome(ctx, conn, name, "")
	if err != nil {
		return NotFound, c.fail(report, name, err), nil
	}
	if outcome == Cancel {
		c.log.Debug("copy declined", zap.String("name", name))
		return Cancel, false, nil
	}
	if outcome == NotFound {
		if err := conn.AllocateLike(ctx, name, item.Dataset); err != nil {
			return outcome, c.fail(report, name, err), nil
		}
	}

	dst := Address{Profile: item.Profile, Path: name}
	if item.Context == ContextSequential {
		if err := conn.CopyDataset(ctx, item.Dataset, name, outcome == Replace); err != nil {
			return outcome, c.fail(report, name, err), nil
		}
		c.finish(dst, outcome)
		return outcome, true, nil
	}

	ok, err := c.copyMembers(ctx, conn, item.Profile, item.Dataset, name, outcome == Replace, report)
	if err != nil {
		return outcome, false, err
	}
	c.finish(dst, outcome)
	return outcome, ok, nil
}

// copyMembers copies every member of src into dst. When dst already
// existed, each member that would be overwritten is confirmed separately;
// a declined member is skipped.
func (c *Copier) copyMembers(ctx context.Context, conn connection.Connection, profile, src, dst string, existed bool, report Reporter) (bool, error) {
	members, err := conn.ListMembers(ctx, src, "")
	if err != nil {
		return c.fail(report, src, err), nil
	}

	present := make(map[string]bool)
	if existed {
		current, err := conn.ListMembers(ctx, dst, "")
		if err != nil {
			return c.fail(report, dst, err), nil
		}
		for _, m := range current {
			present[m.Name] = true
		}
	}

	ok := true
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		target := connection.QualifiedName(dst, m.Name)
		outcome := NotFound
		if present[m.Name] {
			outcome, err = c.confirm(ctx, target)
			if err != nil {
				return false, err
			}
			if outcome == Cancel {
				continue
			}
		}
		if err := conn.CopyMember(ctx, connection.QualifiedName(src, m.Name), target, outcome == Replace); err != nil {
			ok = c.fail(report, target, err)
			continue
		}
		c.p.invalidate(Address{Profile: profile, Path: dst + "/" + m.Name})
	}
	return ok, nil
}

// Paste copies item into the target address. A container target needs a
// member name from the Prompter; a leaf target is overwritten in place once
// confirmed.
func (c *Copier) Paste(ctx context.Context, item ClipboardItem, targetURI string) (bool, error) {
	target, err := Parse(targetURI)
	if err != nil {
		return false, err
	}
	if target.Profile != item.Profile {
		return false, fmt.Errorf("paste %s into %s: %w", item.RemoteName(), target, ErrCrossProfile)
	}
	if item.Context == ContextContainer {
		return false, fmt.Errorf("cannot paste data set %s; copy it instead", item.RemoteName())
	}
	if target.IsProfileRoot() {
		return false, fmt.Errorf("paste target %s must be a data set or member", target)
	}

	e, err := c.p.resolve(ctx, target)
	if err != nil {
		return c.fail(c.report, target.RemoteName(), err), nil
	}

	var dstDS, dstMember string
	dst := target
	switch {
	case e.Kind == KindContainer:
		name, err := c.prompt.MemberName(ctx, item)
		if err != nil {
			return false, err
		}
		if name == "" {
			return false, nil
		}
		name = dsname.Normalize(name)
		if err := dsname.ValidateMember(name); err != nil {
			return c.fail(c.report, name, err), nil
		}
		dstDS, dstMember = target.DottedName(), name
		dst = target.Child(name)
	case target.IsMember():
		dstDS, dstMember = target.SplitPath()
	default:
		dstDS = target.DottedName()
	}
	dstName := connection.QualifiedName(dstDS, dstMember)

	conn, err := c.p.conn(ctx, target.Profile)
	if err != nil {
		return c.fail(c.report, dstName, err), nil
	}
	outcome, err := c.outcome(ctx, conn, dstDS, dstMember)
	if err != nil {
		return c.fail(c.report, dstName, err), nil
	}
	if outcome == Cancel {
		return false, nil
	}

	if dstMember != "" {
		err = conn.CopyMember(ctx, item.RemoteName(), dstName, outcome == Replace)
	} else {
		err = conn.CopyDataset(ctx, item.RemoteName(), dstName, outcome == Replace)
	}
	if err != nil {
		return c.fail(c.report, dstName, err), nil
	}

	c.finish(dst, outcome)
	return true, nil
}

// finish drops stale cached bytes for dst and notifies watchers.
func (c *Copier) finish(dst Address, outcome ReplaceOutcome) {
	metrics.RecordItem("copy", true)
	c.p.invalidate(dst)
	if outcome == Replace {
		c.p.emit(Event{Type: Changed, URI: dst.String()})
		return
	}
	c.p.emit(mutated(Created, dst)...)
}
