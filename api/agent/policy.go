package agent

//
// The policy engine is a pure function of the pooling policy and the pool's
// current occupancy. It never touches pool state itself, the pool manager
// owns all mutation and calls decide under its own lock so a decision and
// its effect are a single atomic step.
//

// DecisionKind says what the pool manager should do for one acquisition.
type DecisionKind int

const (
	// DecisionReuse routes the request to an existing worker.
	DecisionReuse DecisionKind = iota
	// DecisionCreate spawns a new worker for the request.
	DecisionCreate
	// DecisionBusy makes the caller wait for a slot to free.
	DecisionBusy
	// DecisionExhausted rejects the request permanently (oneshot spent).
	DecisionExhausted
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionReuse:
		return "reuse"
	case DecisionCreate:
		return "create"
	case DecisionBusy:
		return "busy"
	case DecisionExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Kind     DecisionKind
	WorkerID string // set for DecisionReuse
}

// workerView is the slice of worker state the policy engine is allowed to see.
type workerView struct {
	id       string
	role     PoolingRole
	inflight int
}

// decide picks what to do for a single acquisition given the policy, whether
// the pool is already spent (oneshot), and a view of the live workers.
func decide(p PoolPolicy, exhausted bool, live []workerView) Decision {
	if exhausted {
		return Decision{Kind: DecisionExhausted}
	}

	switch p.Mode {
	case PolicyPerWorker:
		// reuse the least loaded reusable worker, the engine itself bounds
		// per-worker concurrency
		best := -1
		for i, w := range live {
			if w.role != RoleReusable {
				continue
			}
			if best == -1 || w.inflight < live[best].inflight {
				best = i
			}
		}
		if best >= 0 {
			return Decision{Kind: DecisionReuse, WorkerID: live[best].id}
		}
		if len(live) < p.MaxParallelism {
			return Decision{Kind: DecisionCreate}
		}
		return Decision{Kind: DecisionBusy}

	case PolicyPerRequest:
		if len(live) < p.MaxParallelism {
			return Decision{Kind: DecisionCreate}
		}
		return Decision{Kind: DecisionBusy}

	case PolicyOneshot:
		// MaxParallelism is forced to 1 by construction
		for _, w := range live {
			return Decision{Kind: DecisionReuse, WorkerID: w.id}
		}
		return Decision{Kind: DecisionCreate}
	}

	return Decision{Kind: DecisionBusy}
}
