package observability

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// RoutingKeyWSEvents is the default routing key of connection lifecycle events.
const RoutingKeyWSEvents = "ws_events.realtime"


// WSPayload builds the payload of a realtime lifecycle event.
func WSPayload(event, connID, userID, endpoint, reason string, durationMS int64) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "realtime",
			"endpoint":    endpoint,
			"event":       event,
			"conn_id":     connID,
			"duration_ms": durationMS,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id": userID,
		},
	}
}
