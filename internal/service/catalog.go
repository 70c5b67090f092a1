package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/akashpatel/courseloop/internal/apperror"
	"github.com/akashpatel/courseloop/internal/gateway"
	"github.com/akashpatel/courseloop/internal/model"
)

// CatalogService resolves (course code, professor) pairs to canonical
// course rows and links them to users.
//
// This is the subsystem most exposed to races: at the start of a semester
// many users reference the same course for the first time at once. Safety
// comes from the backend's uniqueness constraint on (course_code,
// professor_name) plus a single bounded re-query here — there is no
// client-side locking, and find-or-create presents as one idempotent
// operation to every caller regardless of who actually inserted the row.
type CatalogService struct {
	gw      gateway.Gateway
	logger  *slog.Logger
	timeout time.Duration
}

func NewCatalogService(gw gateway.Gateway, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		gw:      gw,
		logger:  logger,
		timeout: DefaultCallTimeout,
	}
}

// NormalizeCourseCode strips non-alphanumerics and uppercases, so "CS 101",
// "cs-101" and "cs101" all form the same identity key. Every lookup and
// every write goes through this — a single unnormalized path would let
// duplicate courses proliferate silently.
func NormalizeCourseCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - ('a' - 'A'))
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveCourse returns the canonical course row for (code, professor),
// creating it if absent, and links it to userID.
//
// The dedup dance:
//  1. normalize the code
//  2. select by (normalizedCode, professor) — fast path, no write
//  3. miss → insert; the backend's uniqueness constraint may reject it if
//     another caller inserted between 2 and 3
//  4. on that conflict, re-query ONCE; the row must be there now. If it
//     is not, the backend is inconsistent and the call fails with a fatal
//     conflict rather than looping.
//  5. link via user_courses, create-if-absent; a duplicate link is a no-op.
func (s *CatalogService) ResolveCourse(ctx context.Context, userID, code, professor string) (*model.Course, error) {
	if userID == "" {
		return nil, apperror.ValidationFailed("userID", "user ID is required")
	}
	normalized := NormalizeCourseCode(code)
	if normalized == "" {
		return nil, apperror.ValidationFailed("courseCode", "course code is required")
	}
	professor = strings.TrimSpace(professor)
	if professor == "" {
		return nil, apperror.ValidationFailed("professorName", "professor name is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	course, err := s.findCourse(ctx, normalized, professor)
	if err != nil {
		return nil, err
	}

	if course == nil {
		row := map[string]any{
			"course_code":    normalized,
			"professor_name": professor,
		}
		raw, insErr := s.gw.Insert(ctx, gateway.TableCourses, row)
		switch {
		case insErr == nil:
			course, err = gateway.DecodeOne[model.Course](raw)
			if err != nil {
				return nil, err
			}
			s.logger.Info("course created",
				slog.String("courseCode", normalized),
				slog.String("professor", professor),
			)
		case errors.Is(insErr, apperror.ErrConflict):
			// Lost the create race. The winner's row must be visible now.
			course, err = s.findCourse(ctx, normalized, professor)
			if err != nil {
				return nil, err
			}
			if course == nil {
				return nil, apperror.Conflict("course_dedup",
					fmt.Sprintf("course %s/%s conflicted on insert but is not readable", normalized, professor))
			}
		default:
			return nil, fmt.Errorf("service/catalog: creating course %s/%s: %w", normalized, professor, insErr)
		}
	}

	if err := s.linkCourse(ctx, userID, course.ID); err != nil {
		return nil, err
	}
	return course, nil
}

// AddCoursesForUser resolves and links every entry from the onboarding
// lists. It stops at the first fatal failure and reports it; courses
// resolved before that point stay linked — the caller retries with the
// remaining entries, not the whole batch.
func (s *CatalogService) AddCoursesForUser(ctx context.Context, userID string, current, previous []model.CourseEntry) error {
	all := make([]model.CourseEntry, 0, len(current)+len(previous))
	all = append(all, current...)
	all = append(all, previous...)

	for _, entry := range all {
		if _, err := s.ResolveCourse(ctx, userID, entry.CourseCode, entry.ProfessorName); err != nil {
			return fmt.Errorf("service/catalog: adding course %q for user %s: %w",
				entry.CourseCode, userID, err)
		}
	}

	s.logger.Info("courses linked",
		slog.String("userID", userID),
		slog.Int("count", len(all)),
	)
	return nil
}

// CoursesForUser returns the courses linked to userID.
func (s *CatalogService) CoursesForUser(ctx context.Context, userID string) ([]model.Course, error) {
	if userID == "" {
		return nil, apperror.ValidationFailed("userID", "user ID is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Link insertion order, so the list reads in the order the user added
	// their courses.
	rows, err := s.gw.Select(ctx, gateway.TableUserCourses, gateway.Filters{"user_id": userID},
		&gateway.Order{Column: "created_at"})
	if err != nil {
		return nil, fmt.Errorf("service/catalog: listing courses for user %s: %w", userID, err)
	}
	links, err := gateway.Decode[model.UserCourse](rows)
	if err != nil {
		return nil, err
	}

	courses := make([]model.Course, 0, len(links))
	for _, link := range links {
		courseRows, err := s.gw.Select(ctx, gateway.TableCourses, gateway.Filters{"id": link.CourseID}, nil)
		if err != nil {
			return nil, fmt.Errorf("service/catalog: fetching course %s: %w", link.CourseID, err)
		}
		if len(courseRows) == 0 {
			// Dangling link; skip rather than fail the whole listing.
			s.logger.Warn("user_courses link points at missing course",
				slog.String("courseID", link.CourseID),
			)
			continue
		}
		course, err := gateway.DecodeOne[model.Course](courseRows[0])
		if err != nil {
			return nil, err
		}
		courses = append(courses, *course)
	}
	return courses, nil
}

func (s *CatalogService) findCourse(ctx context.Context, normalizedCode, professor string) (*model.Course, error) {
	rows, err := s.gw.Select(ctx, gateway.TableCourses, gateway.Filters{
		"course_code":    normalizedCode,
		"professor_name": professor,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: looking up course %s/%s: %w", normalizedCode, professor, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return gateway.DecodeOne[model.Course](rows[0])
}

func (s *CatalogService) linkCourse(ctx context.Context, userID, courseID string) error {
	rows, err := s.gw.Select(ctx, gateway.TableUserCourses, gateway.Filters{
		"user_id":   userID,
		"course_id": courseID,
	}, nil)
	if err != nil {
		return fmt.Errorf("service/catalog: checking link %s→%s: %w", userID, courseID, err)
	}
	if len(rows) > 0 {
		return nil // already linked
	}

	link := map[string]any{
		"user_id":   userID,
		"course_id": courseID,
	}
	if _, err := s.gw.Insert(ctx, gateway.TableUserCourses, link); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil // concurrent linker got there first, same outcome
		}
		return fmt.Errorf("service/catalog: linking %s→%s: %w", userID, courseID, err)
	}
	return nil
}
