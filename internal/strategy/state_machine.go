package strategy

// State is the lifecycle phase of an instrument's paired position.
type State string

type Event string

const (
	StateIdle    State = "IDLE"
	StateEnter   State = "ENTER"
	StateHedgeOK State = "HEDGE_OK"
	StateExit    State = "EXIT"
)

const (
	EventEnter   Event = "ENTER"
	EventHedgeOK Event = "HEDGE_OK"
	EventExit    Event = "EXIT"
	EventDone    Event = "DONE"
)

// Apply advances the phase. Invalid events leave it unchanged.
func (i *Instrument) Apply(event Event) State {
	i.Phase = nextState(i.Phase, event)
	return i.Phase
}

// SyncPhase derives the lifecycle event implied by the current legs and live
// orders and applies it.
func (i *Instrument) SyncPhase(inflight Inflight) State {
	pos := i.Position
	switch {
	case !pos.IsOpen() && inflight.Live == 0:
		return i.Apply(EventDone)
	case !pos.Spot.IsFlat() && !pos.Perp.IsFlat() && !inflight.Closing:
		return i.Apply(EventHedgeOK)
	}
	return i.Phase
}

func nextState(current State, event Event) State {
	switch current {
	case StateIdle, "":
		if event == EventEnter {
			return StateEnter
		}
		return StateIdle
	case StateEnter:
		switch event {
		case EventHedgeOK:
			return StateHedgeOK
		case EventExit:
			return StateExit
		case EventDone:
			// both opening legs failed
			return StateIdle
		}
	case StateHedgeOK:
		switch event {
		case EventExit:
			return StateExit
		case EventDone:
			return StateIdle
		}
	case StateExit:
		switch event {
		case EventDone:
			return StateIdle
		case EventHedgeOK:
			// close failed and both legs are still held
			return StateHedgeOK
		}
	}
	return current
}
