package connect

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// optimistic boolean relationship state per normalized target id:
// follow edges, likes, bookmarks. every mutation goes through `Toggle`,
// which serializes conflicting rapid intents deterministically
// (last requested direction wins for display). every request is still
// sent; the store is idempotent about edge creation.

type RelationKind int

const (
	RelationFollow RelationKind = iota
	RelationLike
	RelationBookmark
)

func (self RelationKind) String() string {
	switch self {
	case RelationFollow:
		return "follow"
	case RelationLike:
		return "like"
	case RelationBookmark:
		return "bookmark"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

// fires the discrete create/delete captured at toggle time.
// `complete` must be called exactly once.
type ApplyRelationFunction func(targetId string, create bool, complete func(err error))

// fresh fetch of the server truth for one target.
// `complete` must be called exactly once.
type FetchRelationFunction func(targetId string, complete func(state bool, err error))

type GraphSync struct {
	kind    RelationKind
	actorId string

	apply ApplyRelationFunction
	fetch FetchRelationFunction

	log LogFunction

	stateLock sync.Mutex
	states    map[string]bool
	inFlight  map[string]int
	stopped   bool
	// results that arrive after `Stop` are discarded
	generation uint64
}

func NewGraphSync(
	kind RelationKind,
	actorId string,
	apply ApplyRelationFunction,
	fetch FetchRelationFunction,
) *GraphSync {
	return &GraphSync{
		kind:     kind,
		actorId:  NormalizeUserId(actorId),
		apply:    apply,
		fetch:    fetch,
		log:      LogFn(fmt.Sprintf("[g]%s", kind)),
		states:   map[string]bool{},
		inFlight: map[string]int{},
	}
}

func (self *GraphSync) ActorId() string {
	return self.actorId
}

// seeds local state from an initial bulk fetch
func (self *GraphSync) Seed(targetIds []string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, targetId := range targetIds {
		targetId = NormalizeUserId(targetId)
		if targetId != "" {
			self.states[targetId] = true
		}
	}
}

func (self *GraphSync) CurrentState(targetId string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.states[NormalizeUserId(targetId)]
}

// snapshot of all targets currently in the true state
func (self *GraphSync) ActiveTargets() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	targetIds := []string{}
	for targetId, state := range self.states {
		if state {
			targetIds = append(targetIds, targetId)
		}
	}
	return targetIds
}

// flips the local boolean immediately and fires the corresponding
// create/delete. the direction is captured now; the request is never
// cancelled by a later toggle. returns the new local state.
func (self *GraphSync) Toggle(targetId string) (bool, error) {
	targetId = NormalizeUserId(targetId)
	if targetId == "" {
		return false, &ValidationError{
			Message: "missing target id",
		}
	}
	if self.kind == RelationFollow && targetId == self.actorId {
		return false, &ValidationError{
			Message: "cannot follow self",
		}
	}

	self.stateLock.Lock()
	nextState := !self.states[targetId]
	self.states[targetId] = nextState
	self.inFlight[targetId] += 1
	generation := self.generation
	self.stateLock.Unlock()

	self.log("toggle %s -> %t", targetId, nextState)
	self.apply(targetId, nextState, func(err error) {
		self.settle(targetId, nextState, generation, err)
	})
	return nextState, nil
}

func (self *GraphSync) settle(targetId string, requested bool, generation uint64, err error) {
	self.stateLock.Lock()
	if self.stopped || generation != self.generation {
		self.stateLock.Unlock()
		return
	}
	self.inFlight[targetId] -= 1
	remaining := self.inFlight[targetId]
	self.stateLock.Unlock()

	if err != nil {
		switch err.(type) {
		case *NotFoundError:
			// target is gone. roll the optimistic state back, unless a
			// newer toggle is still in flight and owns the display state.
			if remaining == 0 {
				glog.Infof("[g]%s %s not found, rolling back\n", self.kind, targetId)
				self.stateLock.Lock()
				self.states[targetId] = !requested
				self.stateLock.Unlock()
			}
			return
		default:
			glog.Infof("[g]%s apply %s=%t error = %s\n", self.kind, targetId, requested, err)
		}
	}

	// once every in-flight call for this target settles, the server is
	// re-read and overwrites the local boolean
	if remaining == 0 {
		self.Resync(targetId)
	}
}

// fresh fetch; server truth overwrites the local boolean. disagreement is
// logged, never fatal.
func (self *GraphSync) Resync(targetId string) {
	if self.fetch == nil {
		return
	}
	targetId = NormalizeUserId(targetId)

	self.stateLock.Lock()
	generation := self.generation
	self.stateLock.Unlock()

	self.fetch(targetId, func(state bool, err error) {
		if err != nil {
			glog.Infof("[g]%s resync %s error = %s\n", self.kind, targetId, err)
			return
		}

		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.stopped || generation != self.generation {
			return
		}
		if 0 < self.inFlight[targetId] {
			// a newer toggle is still in flight. its settle will resync.
			return
		}
		if local := self.states[targetId]; local != state {
			conflict := &ConflictError{
				TargetId: targetId,
				Local:    local,
				Remote:   state,
			}
			glog.Infof("[g]%s %s\n", self.kind, conflict)
		}
		self.states[targetId] = state
	})
}

// discards results of any still-in-flight calls
func (self *GraphSync) Stop() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.stopped = true
	self.generation += 1
}
