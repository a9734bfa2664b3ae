package logkv

import "fmt"

// CommandKind enumerates the commands a transport may deliver.
type CommandKind uint8

// Supported command kinds.
const (
	CmdGet CommandKind = iota + 1
	CmdPut
	CmdDelete
	CmdScan
)

// Command is a single decoded client request. For CmdScan the Key
// holds the prefix to scan under; an empty Key scans everything.
type Command struct {
	Kind  CommandKind
	Key   []byte
	Value []byte
}

// Status classifies the outcome of a command.
type Status uint8

// Command outcomes.
const (
	StatusOK Status = iota
	StatusNotFound
	StatusError
)

// Result is the engine's reply to a single command. Err is only set
// when Status is StatusError.
type Result struct {
	Status Status
	Value  []byte
	Pairs  []KV
	Err    error
}

// Do executes a single command against the store. Every command
// yields exactly one result: OK, NOT_FOUND or ERROR with the error
// attached.
func (s *Store) Do(cmd Command) Result {
	switch cmd.Kind {
	case CmdGet:
		value, err := s.Get(cmd.Key)
		if err == ErrNotFound {
			return Result{Status: StatusNotFound}
		} else if err != nil {
			return Result{Status: StatusError, Err: err}
		}
		return Result{Status: StatusOK, Value: value}

	case CmdPut:
		if err := s.Put(cmd.Key, cmd.Value); err != nil {
			return Result{Status: StatusError, Err: err}
		}
		return Result{Status: StatusOK}

	case CmdDelete:
		if err := s.Delete(cmd.Key); err != nil {
			return Result{Status: StatusError, Err: err}
		}
		return Result{Status: StatusOK}

	case CmdScan:
		var opts *ScanOptions
		if len(cmd.Key) != 0 {
			opts = &ScanOptions{Prefix: cmd.Key}
		}

		iter := s.Scan(opts)
		defer iter.Release()

		var pairs []KV
		for iter.Next() {
			pairs = append(pairs, KV{Key: iter.Key(), Value: iter.Value()})
		}
		if err := iter.Err(); err != nil {
			return Result{Status: StatusError, Err: err}
		}
		return Result{Status: StatusOK, Pairs: pairs}

	default:
		return Result{Status: StatusError, Err: fmt.Errorf("logkv: unknown command kind %d", cmd.Kind)}
	}
}
