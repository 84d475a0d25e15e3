package rotation

// cursor is the explicit rotation state: which credential, which model, and
// how many attempts the current (credential, model) pair has consumed. Keeping
// it as a small value object keeps the rotation decisions testable without
// any network calls.
type cursor struct {
	credCount  int
	modelCount int
	cred       int
	model      int
	attempt    int
	maxAttempt int
}

func newCursor(credCount, modelCount, maxAttempt int) *cursor {
	return &cursor{
		credCount:  credCount,
		modelCount: modelCount,
		maxAttempt: maxAttempt,
	}
}

// exhausted reports whether every (credential, model) pair has been visited.
func (c *cursor) exhausted() bool {
	return c.cred >= c.credCount
}

// retry consumes one attempt for the current pair. It returns false when the
// attempt budget for the pair is spent.
func (c *cursor) retry() bool {
	if c.attempt+1 >= c.maxAttempt {
		return false
	}
	c.attempt++
	return true
}

// nextModel advances to the next model for the current credential, rolling
// over to the next credential when the model list is exhausted.
func (c *cursor) nextModel() {
	c.attempt = 0
	c.model++
	if c.model >= c.modelCount {
		c.nextCredential()
	}
}

// nextCredential abandons the current credential entirely.
func (c *cursor) nextCredential() {
	c.attempt = 0
	c.model = 0
	c.cred++
}
