package expertflow

// afterRespond routes out of the response node: a tool-call request
// branches into retrieval, anything else heads for the connector.
func afterRespond(cfg WorkflowConfig) RouterFunc {
	return func(ctx Context, state State) string {
		if last, ok := state.LastMessage(); ok && last.RequestsTool() {
			return NodeRetrieve
		}
		return NodeConnector
	}
}

// afterConnector routes out of the connector: a history grown past the
// trigger ends the turn through summarization, otherwise the turn ends
// directly.
func afterConnector(cfg WorkflowConfig) RouterFunc {
	return func(ctx Context, state State) string {
		if len(state.Messages) > cfg.SummaryTrigger {
			return NodeSummarize
		}
		return END
	}
}
