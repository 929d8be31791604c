package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sreedath/simplepaperbanana/internal/domain"
)

func printEvent(w io.Writer, evt domain.Event) {
	switch evt.Kind {
	case domain.EventKindStatus:
		var p domain.StatusPayload
		if json.Unmarshal(evt.Payload, &p) == nil {
			fmt.Fprintf(w, "%4d  %s\n", evt.Sequence, p.Message)
			return
		}
	case domain.EventKindIteration:
		var p domain.IterationPayload
		if json.Unmarshal(evt.Payload, &p) == nil {
			fmt.Fprintf(w, "%4d  %s [%s] %s\n", evt.Sequence, p.Message, p.Verdict, p.ImageURL)
			if p.Critique != nil && p.Critique.Summary != "" {
				fmt.Fprintf(w, "      critic: %s\n", p.Critique.Summary)
			}
			return
		}
	case domain.EventKindCompleted:
		var p domain.CompletedPayload
		if json.Unmarshal(evt.Payload, &p) == nil {
			fmt.Fprintf(w, "%4d  %s\n", evt.Sequence, p.Message)
			return
		}
	case domain.EventKindError:
		var p domain.ErrorPayload
		if json.Unmarshal(evt.Payload, &p) == nil {
			fmt.Fprintf(w, "%4d  error: %s\n", evt.Sequence, p.Error.Error())
			return
		}
	}
	// Unknown kinds and malformed payloads are shown raw.
	fmt.Fprintf(w, "%4d  %s %s\n", evt.Sequence, evt.Kind, string(evt.Payload))
}

func printOutcome(w io.Writer, poll *domain.PollResponse) {
	switch {
	case poll.Result != nil:
		fmt.Fprintf(w, "Final image: %s (%d iterations, accepted=%t)\n",
			poll.Result.FinalImageURL, poll.Result.TotalIterations, poll.Result.Accepted)
	case poll.Error != nil:
		fmt.Fprintf(w, "Failed: %s\n", poll.Error.Error())
	}
}
