package board

// createRequest is the payload for POST /api/tasks.
type createRequest struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Desc   string `json:"desc,omitempty"`
	Column string `json:"column"`
}

// updateRequest is the payload for PUT /api/tasks/{id}.
type updateRequest struct {
	Title  string `json:"title"`
	Desc   string `json:"desc,omitempty"`
	Column string `json:"column"`
}

// taskResponse is a task as returned by the API. Timestamps are ignored
// by the client. desc may be null.
type taskResponse struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Desc   string `json:"desc"`
	Column string `json:"column"`
}

// okResponse is returned by DELETE /api/tasks/{id} and GET /api/health.
type okResponse struct {
	OK bool `json:"ok"`
}
