package httpdto

// CreateCapsuleResponse is returned by POST /api/upload
type CreateCapsuleResponse struct {
	Status string `json:"status"`
	FileID string `json:"file_id"`
}

// LockedResponse is returned when a capsule's unlock time has not passed.
// Only the unlock timestamp is revealed, never the content or recipients.
type LockedResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	UnlockDate string `json:"unlock_date"`
}

// DeleteCapsuleResponse is returned by DELETE /api/delete/:id
type DeleteCapsuleResponse struct {
	Success bool `json:"success"`
}
