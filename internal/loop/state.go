package loop

// State is what the decision function sees. It is rebuilt from the task
// file before every decision.
type State struct {
	HasTodos bool
	NextTodo string // empty when HasTodos is false
	// NextSection is the heading the next todo sits under.
	NextSection string
	Pending     int
	Done        int
	Context     string
	// Iteration counts completed sessions, starting at 0.
	Iteration                   int
	CommitsSinceLastSupervision int
}
