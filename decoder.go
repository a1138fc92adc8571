package oramacore

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// decodeStreamEvent maps one framed payload to at most one StreamEvent.
// It never fails: payloads that are not JSON come back as KindRaw so the
// caller can log or ignore them, and envelopes missing required inner
// fields return nil, meaning skip with no state mutation.
//
// Two envelope generations exist in the wild and both are supported: the
// `{type, message}` wrapper whose message is itself a JSON-encoded
// `{action, result, done}` object, and the flat `{state, data}` shape of
// the newer protocol. The discriminator is a single field-presence check.
func decodeStreamEvent(payload string) *StreamEvent {
	if payload == "" {
		return nil
	}
	if !gjson.Valid(payload) {
		return &StreamEvent{Kind: KindRaw, Raw: payload}
	}
	root := gjson.Parse(payload)

	if t := root.Get("type"); t.Exists() {
		inner := root.Get("message").String()
		if inner == "" {
			return nil
		}
		if !gjson.Valid(inner) {
			return nil
		}
		msg := gjson.Parse(inner)
		action := msg.Get("action")
		if !action.Exists() {
			return nil
		}
		return eventFromAction(action.String(), msg.Get("result").String(), msg.Get("done").Bool())
	}

	if st := root.Get("state"); st.Exists() {
		return stateEvent(st.String(), root.Get("data"))
	}

	return &StreamEvent{Kind: KindRaw, Raw: payload}
}

func eventFromAction(action, result string, done bool) *StreamEvent {
	switch action {
	case actionGiveReply:
		return &StreamEvent{Kind: KindToken, Token: result}
	case actionSelectedLLM:
		var sel struct {
			Provider string `json:"provider"`
			Model    string `json:"model"`
		}
		if err := json.Unmarshal([]byte(result), &sel); err != nil {
			return stepFallback(action, result, done)
		}
		return &StreamEvent{Kind: KindSelectedModel, Provider: sel.Provider, Model: sel.Model}
	case actionOptimizingQuery:
		return &StreamEvent{Kind: KindOptimizedQuery, Query: result}
	case actionSearchResults:
		var hits []SearchHit
		if err := json.Unmarshal([]byte(result), &hits); err != nil {
			return stepFallback(action, result, done)
		}
		return &StreamEvent{Kind: KindSearchResults, Results: hits}
	case actionRelatedQueries:
		return &StreamEvent{Kind: KindRelatedQueries, Chunk: result}
	case actionPlan:
		var steps []PlanStep
		if err := json.Unmarshal([]byte(result), &steps); err != nil {
			return stepFallback(action, result, done)
		}
		return &StreamEvent{Kind: KindPlan, Plan: steps}
	case actionGetSegment, actionGetTrigger:
		var a Audience
		if err := json.Unmarshal([]byte(result), &a); err != nil {
			return stepFallback(action, result, done)
		}
		kind := KindSegment
		if action == actionGetTrigger {
			kind = KindTrigger
		}
		return &StreamEvent{Kind: kind, Audience: &a}
	case actionSegmentProbability:
		p := gjson.Parse(result)
		if p.Type != gjson.Number {
			return stepFallback(action, result, done)
		}
		return &StreamEvent{Kind: KindProbability, Probability: p.Float()}
	case actionCompleted:
		return &StreamEvent{Kind: KindCompleted}
	case actionError:
		return errorEvent(result, done)
	default:
		// Forward compatibility: unknown actions still surface as steps so
		// partial progress keeps reaching observers.
		return &StreamEvent{Kind: KindStep, Step: action, Result: result, Done: done}
	}
}

// stepFallback keeps a recognized action with an unparsable result alive as
// a generic step instead of dropping it.
func stepFallback(action, result string, done bool) *StreamEvent {
	return &StreamEvent{Kind: KindStep, Step: action, Result: result, Done: done}
}

func stateEvent(state string, data gjson.Result) *StreamEvent {
	switch state {
	case actionCompleted:
		return &StreamEvent{Kind: KindCompleted}
	case actionError:
		return errorEvent(data.String(), true)
	default:
		return &StreamEvent{Kind: KindStateChange, Step: state, Raw: data.Raw}
	}
}

func errorEvent(result string, done bool) *StreamEvent {
	if gjson.Valid(result) {
		parsed := gjson.Parse(result)
		if m := parsed.Get("message"); m.Exists() {
			terminal := done
			if t := parsed.Get("terminal"); t.Exists() {
				terminal = t.Bool()
			}
			return &StreamEvent{Kind: KindError, Message: m.String(), Terminal: terminal}
		}
	}
	return &StreamEvent{Kind: KindError, Message: result, Terminal: done}
}
