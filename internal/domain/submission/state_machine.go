// Package submission: машина состояний одной заявки.
//
// Жизненный цикл:
//
//	Validating → CheckingDuplicate → Staging → Persisting → Committed
//	любое нетерминальное состояние → RolledBack
//
// Committed и RolledBack терминальные. Повтор: новый StateMachine.
// Потокобезопасна за счёт sync.RWMutex.
package submission

import (
	"fmt"
	"sync"
	"time"
)

// State: состояние заявки.
type State string

const (
	StateValidating        State = "validating"
	StateCheckingDuplicate State = "checking_duplicate"
	StateStaging           State = "staging"
	StatePersisting        State = "persisting"
	StateCommitted         State = "committed"
	StateRolledBack        State = "rolled_back"
)

// Kind: тип отправляемой записи.
type Kind string

const (
	KindReview   Kind = "review"
	KindBusiness Kind = "business"
)

// TransitionRecord: запись истории переходов.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// validTransitions: допустимые переходы из текущего состояния.
var validTransitions = map[State]map[State]bool{
	StateValidating:        {StateCheckingDuplicate: true, StateRolledBack: true},
	StateCheckingDuplicate: {StateStaging: true, StateRolledBack: true},
	StateStaging:           {StatePersisting: true, StateRolledBack: true},
	StatePersisting:        {StateCommitted: true, StateRolledBack: true},
	StateCommitted:         {},
	StateRolledBack:        {},
}

// StateMachine отслеживает одну заявку.
type StateMachine struct {
	mu      sync.RWMutex
	kind    Kind
	current State
	history []TransitionRecord
	now     func() time.Time
}

// NewStateMachine начинает заявку в StateValidating.
func NewStateMachine(kind Kind) *StateMachine {
	return &StateMachine{
		kind:    kind,
		current: StateValidating,
		history: make([]TransitionRecord, 0, 5),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Kind возвращает вид заявки.
func (sm *StateMachine) Kind() Kind {
	return sm.kind
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// IsTerminal сообщает, дошла ли заявка до Committed или RolledBack.
func (sm *StateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(validTransitions[sm.current]) == 0
}

// CanTransitionTo сообщает, достижимо ли target из текущего состояния.
func (sm *StateMachine) CanTransitionTo(target State) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return validTransitions[sm.current][target]
}

// TransitionTo переводит заявку в target.
// Недопустимый переход возвращает *TransitionError с кодом INVALID_TRANSITION.
func (sm *StateMachine) TransitionTo(target State, reason string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !isValidState(target) {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("unknown target state: %q", target),
		}
	}

	if !validTransitions[sm.current][target] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("transition %s → %s is not allowed", sm.current, target),
		}
	}

	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		Reason:    reason,
		Timestamp: sm.now(),
	})
	sm.current = target

	return nil
}

// RollBack переводит нетерминальную заявку в RolledBack.
// Для терминальных заявок ничего не делает.
func (sm *StateMachine) RollBack(reason string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(validTransitions[sm.current]) == 0 {
		return
	}
	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        StateRolledBack,
		Reason:    reason,
		Timestamp: sm.now(),
	})
	sm.current = StateRolledBack
}

// History возвращает копию истории переходов.
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}

// TransitionError: ошибка недопустимого перехода.
type TransitionError struct {
	Code    string // INVALID_TRANSITION
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func isValidState(s State) bool {
	_, ok := validTransitions[s]
	return ok
}
