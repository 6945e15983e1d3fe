package kge

import "github.com/cnclabs/tkge/pkg/knowledge"

// Device moves batches to the memory the scoring runs on.
type Device interface {
	Name() string
	TransferBatch(b *knowledge.Batch) error
	TransferEval(b *knowledge.EvalBatch) error
}

// HostDevice scores in host memory; transfers are no-ops.
type HostDevice struct{}

func (HostDevice) Name() string { return "host" }

func (HostDevice) TransferBatch(*knowledge.Batch) error { return nil }

func (HostDevice) TransferEval(*knowledge.EvalBatch) error { return nil }
