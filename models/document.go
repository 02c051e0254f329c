package models

import "time"

// Document is a tenant-owned record served by the documents API. It carries
// server-only fields that must never reach a client unsanitized.
type Document struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Owner         Owner     `json:"owner"`
	InternalNotes string    `json:"internal_notes,omitempty"`
	ShareToken    string    `json:"share_token,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Owner is the subject that created a document
type Owner struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash,omitempty"`
}
