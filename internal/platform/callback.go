package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event names sent to a Callback. "proccess" is the platform's spelling.
const (
	EventStart   = "start"
	EventProcess = "proccess"
	EventEnd     = "end"
	EventError   = "error"
)

// ErrPodFailed is returned when the model's pod reports an error.
var ErrPodFailed = errors.New("model pod failed")

// Event reports progress of RunModelWithCallback.
type Event struct {
	Name    string          `json:"event"`
	Message string          `json:"message"`
	Time    time.Time       `json:"time"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Callback receives progress events.
type Callback func(Event)

// RunModelWithCallback waits for the model's pod to run, then calls the
// model. Progress goes to cb: start first, proccess while the pod is not
// ready, then exactly one of end (with the result) or error.
func (c *Client) RunModelWithCallback(ctx context.Context, modelID int, payload any, cb Callback) (json.RawMessage, error) {
	emit := func(name, msg string, data json.RawMessage) {
		if cb != nil {
			cb(Event{Name: name, Message: msg, Time: time.Now(), Data: data})
		}
	}
	fail := func(err error) (json.RawMessage, error) {
		emit(EventError, err.Error(), nil)
		return nil, err
	}

	emit(EventStart, "start model run", nil)
	for {
		pod, err := c.PodLogResult(ctx, modelID)
		if err != nil {
			return fail(err)
		}

		switch waiting := pod.WaitingReason(); {
		case waiting == "CrashLoopBackOff":
			return fail(fmt.Errorf("%w: model is CrashLoopBackOff", ErrPodFailed))
		case waiting != "":
			emit(EventProcess, "Model is "+waiting, nil)
		case pod.Error != "":
			return fail(fmt.Errorf("%w: %s", ErrPodFailed, pod.Error))
		case pod.IsRunning():
			if err := sleepFunc(ctx, c.settleDelay); err != nil {
				return fail(err)
			}
			result, err := c.RunModel(ctx, modelID, payload)
			if err != nil {
				return fail(err)
			}
			emit(EventEnd, "ok", result)
			return result, nil
		default:
			emit(EventProcess, "Waiting for model to be ready", nil)
		}

		c.logger.WithField("model", modelID).Debug("model not ready, polling")
		if err := sleepFunc(ctx, c.pollInterval); err != nil {
			return fail(err)
		}
	}
}
