package query

import (
	"context"
	"time"
)

type Target string

const (
	TargetWarehouse Target = "warehouse"
	TargetCluster   Target = "cluster"
)

// Mode selects how the query text is interpreted. Warehouse requests always
// run as ModeStatement; cluster requests choose between a kubectl command and
// the SELECT-style resource grammar.
type Mode string

const (
	ModeStatement Mode = "statement"
	ModeKubectl   Mode = "kubectl"
	ModeResource  Mode = "sql"
)

type Request struct {
	Target Target
	Mode   Mode
	Text   string
}

type Outcome struct {
	Success  bool
	Envelope Envelope
	Elapsed  time.Duration
	Query    string
	Target   Target
	Mode     Mode
	Err      *Error
}

// CommandResult is the fully buffered result of one external command run.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// WarehouseExecutor runs one statement on a dedicated connection and returns
// a native result: []Object for row sets or ExecSummary for everything else.
type WarehouseExecutor interface {
	Execute(ctx context.Context, statement string) (any, error)
}

// CommandRunner spawns the cluster CLI with args. A returned error means the
// process could not be started or waited on; a non-zero exit is reported
// through CommandResult.ExitCode with a nil error.
type CommandRunner interface {
	Run(ctx context.Context, args []string) (CommandResult, error)
}

type ResourceTranslator interface {
	Translate(ctx context.Context, statement string) (any, error)
}
