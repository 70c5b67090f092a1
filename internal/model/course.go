package model

// Course is a canonical course record.
//
// Identity is the pair (CourseCode, ProfessorName) — NOT the row ID. The
// course code is stored normalized (uppercase, non-alphanumerics stripped),
// and the backend carries a uniqueness constraint on the pair; the catalog
// service is responsible for collapsing the create race on first use.
type Course struct {
	ID            string `json:"id"             db:"id"`
	CourseCode    string `json:"course_code"    db:"course_code"`
	ProfessorName string `json:"professor_name" db:"professor_name"`
}

// UserCourse links a user to a course. Pure join row, no payload.
// Duplicate links are harmless; the catalog service avoids creating them.
type UserCourse struct {
	UserID   string `json:"user_id"   db:"user_id"`
	CourseID string `json:"course_id" db:"course_id"`
}

// CourseEntry is a raw, user-typed course reference as collected during
// onboarding ("CS 101" / "Smith, J"). It has not been normalized or resolved
// to a Course row yet.
type CourseEntry struct {
	CourseCode    string `json:"course_code"`
	ProfessorName string `json:"professor_name"`
}
