package vfs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"zmfs/internal/connection"
	"zmfs/internal/metrics"
)

// Mover relocates data sets and members, within or across profiles, using
// allocate, write and delete calls. Remote failures abort only the item
// they occur on and are passed to the Reporter.
type Mover struct {
	p      *Provider
	report Reporter
	log    *zap.Logger
}

func NewMover(p *Provider, report Reporter) *Mover {
	return &Mover{p: p, report: report, log: p.log.Named("move")}
}

// Transfer is one source and destination pair.
type Transfer struct {
	Src string
	Dst string
}

func (m *Mover) fail(name string, err error) bool {
	m.log.Warn("move failed", zap.String("name", name), zap.Error(err))
	if m.report != nil {
		m.report.ItemFailed(name, err)
	}
	return false
}

// MoveAll moves items one at a time. Cancellation is checked between items;
// items already moved stay moved.
func (m *Mover) MoveAll(ctx context.Context, items []Transfer) (*BatchResult, error) {
	res := &BatchResult{Total: len(items)}
	batch := &Mover{p: m.p, report: tee{m.report, res}, log: m.log}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ok, err := batch.Move(ctx, it.Src, it.Dst, false)
		if err != nil {
			return res, err
		}
		if ok {
			res.Succeeded++
		}
	}
	m.log.Info("move batch finished", zap.Stringer("result", res))
	return res, nil
}

// Move moves src to dst and reports whether it succeeded. recursive marks a
// member being moved as part of its container; the destination container is
// then already in place. The returned error is reserved for malformed
// requests and cancellation.
func (m *Mover) Move(ctx context.Context, srcURI, dstURI string, recursive bool) (bool, error) {
	src, err := Parse(srcURI)
	if err != nil {
		return false, err
	}
	dst, err := Parse(dstURI)
	if err != nil {
		return false, err
	}
	if src.IsProfileRoot() || dst.IsProfileRoot() {
		return false, fmt.Errorf("cannot move %s to %s: profile roots cannot be moved", src, dst)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	e, err := m.p.resolve(ctx, src)
	if err != nil {
		return m.fail(src.RemoteName(), err), nil
	}

	var ok bool
	switch {
	case e.Kind == KindContainer:
		if dst.IsMember() {
			return false, fmt.Errorf("cannot move data set %s into member %s", src.RemoteName(), dst.RemoteName())
		}
		ok, err = m.moveContainer(ctx, src, dst)
	case dst.IsMember():
		ok, err = m.moveMember(ctx, src, dst, recursive)
	default:
		ok, err = m.moveSequential(ctx, src, dst)
	}
	if err != nil {
		return false, err
	}
	metrics.RecordItem("move", ok)
	return ok, nil
}

// ensureContainer makes sure the destination container exists, allocating
// it from the attributes of the source container when it does not.
func (m *Mover) ensureContainer(ctx context.Context, srcProfile, srcName string, dst Address) bool {
	dstName := dst.DottedName()
	dstConn, err := m.p.conn(ctx, dst.Profile)
	if err != nil {
		return m.fail(dstName, err)
	}

	_, err = dstConn.GetDataset(ctx, dstName)
	if err == nil {
		m.p.addContainer(dst.Profile, dstName)
		return true
	}
	if !errors.Is(err, connection.ErrNotFound) {
		return m.fail(dstName, err)
	}

	srcConn, err := m.p.conn(ctx, srcProfile)
	if err != nil {
		return m.fail(srcName, err)
	}
	ds, err := srcConn.GetDataset(ctx, srcName)
	if err != nil {
		return m.fail(srcName, err)
	}

	attrs := AllocationFromDataset(*ds, true)
	if err := dstConn.CreateDataset(ctx, dstName, attrs); err != nil {
		return m.fail(dstName, err)
	}
	m.log.Info("allocated destination", zap.String("dataset", dstName), zap.String("like", srcName),
		zap.String("alcunit", attrs.Alcunit), zap.Int("primary", attrs.Primary))

	m.p.addContainer(dst.Profile, dstName)
	m.p.emit(mutated(Created, dst)...)
	return true
}

func (m *Mover) moveContainer(ctx context.Context, src, dst Address) (bool, error) {
	if !m.ensureContainer(ctx, src.Profile, src.DottedName(), dst) {
		return false, nil
	}

	members, err := m.p.ReadDirectory(ctx, src.String())
	if err != nil {
		return m.fail(src.RemoteName(), err), nil
	}

	ok := true
	for _, c := range members {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		moved, err := m.Move(ctx, src.Child(c.Name).String(), dst.Child(c.Name).String(), true)
		if err != nil {
			return false, err
		}
		ok = ok && moved
	}
	if !ok {
		m.log.Warn("source kept after partial move", zap.String("dataset", src.RemoteName()))
		return false, nil
	}

	if err := m.p.Delete(ctx, src.String()); err != nil {
		return m.fail(src.RemoteName(), err), nil
	}
	return true, nil
}

func (m *Mover) moveMember(ctx context.Context, src, dst Address, recursive bool) (bool, error) {
	if !recursive {
		srcContainer, _ := src.SplitPath()
		if srcContainer == "" {
			srcContainer = src.DottedName()
		}
		if !m.ensureContainer(ctx, src.Profile, srcContainer, dst.Parent()) {
			return false, nil
		}
	}

	dstConn, err := m.p.conn(ctx, dst.Profile)
	if err != nil {
		return m.fail(dst.RemoteName(), err), nil
	}
	dstContainer, dstMember := dst.SplitPath()
	exists, err := memberExists(ctx, dstConn, dstContainer, dstMember)
	if err != nil {
		return m.fail(dst.RemoteName(), err), nil
	}
	// Creating a member uploads empty content, so an existing one is left
	// alone until the new bytes are written over it.
	if !exists {
		if err := dstConn.CreateMember(ctx, dst.RemoteName()); err != nil {
			return m.fail(dst.RemoteName(), err), nil
		}
	}
	return m.transfer(ctx, src, dst, !exists), nil
}

func (m *Mover) moveSequential(ctx context.Context, src, dst Address) (bool, error) {
	name := dst.DottedName()
	dstConn, err := m.p.conn(ctx, dst.Profile)
	if err != nil {
		return m.fail(name, err), nil
	}

	exists, err := datasetExists(ctx, dstConn, name)
	if err != nil {
		return m.fail(name, err), nil
	}
	if !exists {
		if err := dstConn.CreateDataset(ctx, name, DefaultSequentialAttributes()); err != nil {
			return m.fail(name, err), nil
		}
	}
	return m.transfer(ctx, src, dst, !exists), nil
}

// transfer copies bytes with the source's encoding and then deletes the
// source. A destination created for this transfer is removed again if the
// write fails.
func (m *Mover) transfer(ctx context.Context, src, dst Address, created bool) bool {
	enc := ParseEncoding(src.Query.Encoding)
	if enc.IsDefault() {
		if info, ok := m.p.Entry(src.String()); ok {
			enc = info.Encoding
		}
	}

	data, err := m.p.ReadFile(ctx, src.WithQuery(Query{Encoding: enc.Directive()}).URI())
	if err != nil {
		return m.fail(src.RemoteName(), err)
	}

	target := dst.WithQuery(Query{Encoding: enc.Directive(), ForceUpload: true})
	if err := m.p.WriteFile(ctx, target.URI(), data, WriteOptions{Create: true, Overwrite: true}); err != nil {
		if created {
			m.cleanup(ctx, dst)
		}
		return m.fail(dst.RemoteName(), err)
	}

	if err := m.p.Delete(ctx, src.String()); err != nil {
		return m.fail(src.RemoteName(), err)
	}
	m.log.Debug("moved", zap.String("from", src.RemoteName()), zap.String("to", dst.RemoteName()))
	return true
}

func (m *Mover) cleanup(ctx context.Context, dst Address) {
	conn, err := m.p.conn(ctx, dst.Profile)
	if err == nil {
		err = conn.Delete(ctx, dst.RemoteName())
	}
	if err != nil {
		m.log.Warn("cleanup of partial destination failed", zap.String("name", dst.RemoteName()), zap.Error(err))
		return
	}
	m.p.forget(dst)
}
