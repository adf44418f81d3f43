// Package validation checks the structure of a state graph before it runs.
//
// Unlike a fail-fast check, Validate walks the whole graph and returns every
// violation it finds, each wrapping one of the sentinel errors below.
package validation

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/langgraph-go/stategraph/constants"
)

var (
	ErrReservedName    = errors.New("reserved node name")
	ErrDuplicateNode   = errors.New("duplicate node")
	ErrDanglingEdge    = errors.New("edge references unknown node")
	ErrInvalidEdge     = errors.New("invalid edge")
	ErrNoEntry         = errors.New("no edge from START")
	ErrNoOutgoingEdge  = errors.New("node has no outgoing edge")
	ErrInvalidTargets  = errors.New("invalid allowed-target set")
	ErrUndeclaredWrite = errors.New("write-set names undeclared key")
	ErrConcurrentWrite = errors.New("parallel nodes write a single-writer key")
	ErrUnreachable     = errors.New("node unreachable from START")
)

// Validator collects the structure of a graph as it is declared.
type Validator struct {
	nodes  []string
	seen   map[string]int
	writes map[string][]string
	edges  map[string][]string
	routes map[string][][]string
	keys   map[string]bool // key -> allows concurrent writes
	extra  []error
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		seen:   make(map[string]int),
		writes: make(map[string][]string),
		edges:  make(map[string][]string),
		routes: make(map[string][][]string),
		keys:   make(map[string]bool),
	}
}

// DeclareKey registers a schema key.
func (v *Validator) DeclareKey(name string, concurrent bool) {
	v.keys[name] = concurrent
}

// AddNode registers a node with its declared write-set.
func (v *Validator) AddNode(name string, writes []string) {
	v.seen[name]++
	if v.seen[name] == 1 {
		v.nodes = append(v.nodes, name)
	}
	v.writes[name] = append(v.writes[name], writes...)
}

// AddEdge registers an unconditional edge.
func (v *Validator) AddEdge(from, to string) {
	v.edges[from] = append(v.edges[from], to)
}

// AddRoute registers a conditional edge with its allowed targets.
func (v *Validator) AddRoute(from string, allowed []string) {
	v.routes[from] = append(v.routes[from], allowed)
}

// Report adds a violation found outside the validator, such as a schema defect.
func (v *Validator) Report(err error) {
	v.extra = append(v.extra, err)
}

func (v *Validator) isNode(name string) bool {
	return v.seen[name] > 0
}

// Validate returns every violation, in a deterministic order.
func (v *Validator) Validate() []error {
	errs := slices.Clone(v.extra)
	errs = append(errs, v.checkNodes()...)
	errs = append(errs, v.checkEdges()...)
	errs = append(errs, v.checkRoutes()...)
	errs = append(errs, v.checkOutgoing()...)
	errs = append(errs, v.checkWrites()...)
	errs = append(errs, v.checkSiblings()...)
	errs = append(errs, v.checkReachable()...)
	return errs
}

func (v *Validator) checkNodes() []error {
	var errs []error
	for _, n := range v.nodes {
		if n == "" || constants.IsReserved(n) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrReservedName, n))
		}
		if v.seen[n] > 1 {
			errs = append(errs, fmt.Errorf("%w: '%s' added %d times", ErrDuplicateNode, n, v.seen[n]))
		}
	}
	return errs
}

func (v *Validator) sources() []string {
	return append([]string{constants.Start}, v.nodes...)
}

func (v *Validator) checkEdges() []error {
	var errs []error
	if len(v.edges[constants.Start]) == 0 && len(v.routes[constants.Start]) == 0 {
		errs = append(errs, ErrNoEntry)
	}
	for _, from := range v.danglingSources() {
		errs = append(errs, fmt.Errorf("%w: edge from '%s'", ErrDanglingEdge, from))
	}
	for _, from := range v.sources() {
		if !v.isNode(from) && from != constants.Start {
			continue
		}
		seen := map[string]bool{}
		for _, to := range v.edges[from] {
			switch {
			case to == constants.Start:
				errs = append(errs, fmt.Errorf("%w: '%s' -> START", ErrInvalidEdge, from))
			case from == constants.Start && to == constants.End:
				errs = append(errs, fmt.Errorf("%w: START -> END", ErrInvalidEdge))
			case to != constants.End && !v.isNode(to):
				errs = append(errs, fmt.Errorf("%w: '%s' -> '%s'", ErrDanglingEdge, from, to))
			case seen[to]:
				errs = append(errs, fmt.Errorf("%w: '%s' -> '%s' declared twice", ErrInvalidEdge, from, to))
			}
			seen[to] = true
		}
	}
	return errs
}

// danglingSources lists edge sources that are neither START nor a node,
// including END.
func (v *Validator) danglingSources() []string {
	var out []string
	for from := range v.edges {
		if from != constants.Start && !v.isNode(from) {
			out = append(out, from)
		}
	}
	for from := range v.routes {
		if from != constants.Start && !v.isNode(from) && !slices.Contains(out, from) {
			out = append(out, from)
		}
	}
	slices.Sort(out)
	return out
}

func (v *Validator) checkRoutes() []error {
	var errs []error
	for _, from := range v.sources() {
		for _, allowed := range v.routes[from] {
			if len(allowed) == 0 {
				errs = append(errs, fmt.Errorf("%w: conditional edge from '%s' declares no targets", ErrInvalidTargets, from))
				continue
			}
			seen := map[string]bool{}
			for _, to := range allowed {
				switch {
				case seen[to]:
					errs = append(errs, fmt.Errorf("%w: '%s' listed twice by conditional edge from '%s'", ErrInvalidTargets, to, from))
				case to == constants.Start:
					errs = append(errs, fmt.Errorf("%w: conditional edge from '%s' targets START", ErrInvalidTargets, from))
				case to != constants.End && !v.isNode(to):
					errs = append(errs, fmt.Errorf("%w: conditional edge from '%s' allows unknown target '%s'", ErrDanglingEdge, from, to))
				}
				seen[to] = true
			}
		}
	}
	return errs
}

func (v *Validator) checkOutgoing() []error {
	var errs []error
	for _, n := range v.nodes {
		if len(v.edges[n]) == 0 && len(v.routes[n]) == 0 {
			errs = append(errs, fmt.Errorf("%w: '%s' (add an edge to END to finish there)", ErrNoOutgoingEdge, n))
		}
	}
	return errs
}

func (v *Validator) checkWrites() []error {
	var errs []error
	for _, n := range v.nodes {
		var missing []string
		for _, k := range v.writes[n] {
			if _, ok := v.keys[k]; !ok && !slices.Contains(missing, k) {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			errs = append(errs, fmt.Errorf("%w: node '%s' declares %s", ErrUndeclaredWrite, n, strings.Join(missing, ", ")))
		}
	}
	return errs
}

// checkSiblings flags nodes started together by one fan-out that declare
// writes to the same single-writer key. Writers that only meet at run time
// are caught by the merge instead.
func (v *Validator) checkSiblings() []error {
	var errs []error
	for _, from := range v.sources() {
		targets := v.edges[from]
		if len(targets) < 2 {
			continue
		}
		writers := map[string][]string{}
		var order []string
		for _, to := range targets {
			for _, k := range dedupe(v.writes[to]) {
				concurrent, declared := v.keys[k]
				if !declared || concurrent {
					continue
				}
				if _, ok := writers[k]; !ok {
					order = append(order, k)
				}
				writers[k] = append(writers[k], to)
			}
		}
		for _, k := range order {
			if len(writers[k]) > 1 {
				errs = append(errs, fmt.Errorf("%w: '%s' is written by %s, all started by '%s'",
					ErrConcurrentWrite, k, strings.Join(writers[k], ", "), from))
			}
		}
	}
	return errs
}

func (v *Validator) checkReachable() []error {
	reachable := v.Reachable()
	var errs []error
	for _, n := range v.nodes {
		if !reachable[n] {
			errs = append(errs, fmt.Errorf("%w: '%s'", ErrUnreachable, n))
		}
	}
	return errs
}

// Reachable returns the nodes reachable from START through edges or any
// allowed conditional target.
func (v *Validator) Reachable() map[string]bool {
	reachable := map[string]bool{constants.Start: true}
	queue := []string{constants.Start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		next := slices.Clone(v.edges[current])
		for _, allowed := range v.routes[current] {
			next = append(next, allowed...)
		}
		for _, to := range next {
			if to != constants.End && v.isNode(to) && !reachable[to] {
				reachable[to] = true
				queue = append(queue, to)
			}
		}
	}
	return reachable
}

func dedupe(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
