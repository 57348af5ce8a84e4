package connection

import (
	"context"
	"time"

	"zmfs/internal/metrics"
)

type instrumented struct {
	next Connection
}

// Instrument wraps a Connection so every remote call is counted and timed.
func Instrument(c Connection) Connection {
	if _, ok := c.(*instrumented); ok {
		return c
	}
	return &instrumented{next: c}
}

func (i *instrumented) Connect() error {
	start := time.Now()
	err := i.next.Connect()
	metrics.RecordRemoteCall("connect", start, err)
	return err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

func (i *instrumented) ListDatasets(ctx context.Context, pattern string) ([]Dataset, error) {
	start := time.Now()
	ds, err := i.next.ListDatasets(ctx, pattern)
	metrics.RecordRemoteCall("list_datasets", start, err)
	return ds, err
}

func (i *instrumented) GetDataset(ctx context.Context, name string) (*Dataset, error) {
	start := time.Now()
	ds, err := i.next.GetDataset(ctx, name)
	metrics.RecordRemoteCall("get_dataset", start, err)
	return ds, err
}

func (i *instrumented) ListMembers(ctx context.Context, dataset, pattern string) ([]Member, error) {
	start := time.Now()
	m, err := i.next.ListMembers(ctx, dataset, pattern)
	metrics.RecordRemoteCall("list_members", start, err)
	return m, err
}

func (i *instrumented) Read(ctx context.Context, name string, opts TransferOptions) (*Content, error) {
	start := time.Now()
	c, err := i.next.Read(ctx, name, opts)
	metrics.RecordRemoteCall("read", start, err)
	return c, err
}

func (i *instrumented) Write(ctx context.Context, name string, content []byte, opts TransferOptions) (string, error) {
	start := time.Now()
	etag, err := i.next.Write(ctx, name, content, opts)
	metrics.RecordRemoteCall("write", start, err)
	return etag, err
}

func (i *instrumented) Delete(ctx context.Context, name string) error {
	start := time.Now()
	err := i.next.Delete(ctx, name)
	metrics.RecordRemoteCall("delete", start, err)
	return err
}

func (i *instrumented) RenameDataset(ctx context.Context, oldName, newName string) error {
	start := time.Now()
	err := i.next.RenameDataset(ctx, oldName, newName)
	metrics.RecordRemoteCall("rename_dataset", start, err)
	return err
}

func (i *instrumented) RenameMember(ctx context.Context, dataset, oldMember, newMember string) error {
	start := time.Now()
	err := i.next.RenameMember(ctx, dataset, oldMember, newMember)
	metrics.RecordRemoteCall("rename_member", start, err)
	return err
}

func (i *instrumented) CreateDataset(ctx context.Context, name string, attrs AllocationAttributes) error {
	start := time.Now()
	err := i.next.CreateDataset(ctx, name, attrs)
	metrics.RecordRemoteCall("create_dataset", start, err)
	return err
}

func (i *instrumented) CreateMember(ctx context.Context, name string) error {
	start := time.Now()
	err := i.next.CreateMember(ctx, name)
	metrics.RecordRemoteCall("create_member", start, err)
	return err
}

func (i *instrumented) AllocateLike(ctx context.Context, name, like string) error {
	start := time.Now()
	err := i.next.AllocateLike(ctx, name, like)
	metrics.RecordRemoteCall("allocate_like", start, err)
	return err
}

func (i *instrumented) CopyMember(ctx context.Context, from, to string, replace bool) error {
	start := time.Now()
	err := i.next.CopyMember(ctx, from, to, replace)
	metrics.RecordRemoteCall("copy_member", start, err)
	return err
}

func (i *instrumented) CopyDataset(ctx context.Context, from, to string, replace bool) error {
	start := time.Now()
	err := i.next.CopyDataset(ctx, from, to, replace)
	metrics.RecordRemoteCall("copy_dataset", start, err)
	return err
}

var _ Connection = (*instrumented)(nil)
