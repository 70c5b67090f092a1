// Command courseloop is the interactive client: email OTP sign-in, profile
// onboarding, course selection, and the course discussion feed, all against
// either the hosted backend or the embedded local one.
//
// One process, one user: the session manager underneath holds at most a
// single session, which is exactly the shape of this CLI.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/akashpatel/courseloop/internal/college"
	"github.com/akashpatel/courseloop/internal/config"
	"github.com/akashpatel/courseloop/internal/gateway"
	"github.com/akashpatel/courseloop/internal/gateway/sqlitegw"
	"github.com/akashpatel/courseloop/internal/gateway/supabase"
	"github.com/akashpatel/courseloop/internal/model"
	"github.com/akashpatel/courseloop/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env beside the binary is a development convenience; absence is fine.
	godotenv.Load()

	configPath := flag.String("config", "", "path to an optional YAML config file")
	backend := flag.String("backend", "", "backend override: supabase or local")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *backend != "" {
		cfg.Backend = *backend
	}

	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	gw, cleanup, err := openGateway(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	profiles := service.NewProfileService(gw, logger)
	catalog := service.NewCatalogService(gw, logger)
	engagement := service.NewEngagementService(gw, logger)
	sessions := service.NewSessionManager(gw, profiles, nil, logger)
	colleges := college.New(cfg.College.BaseURL, cfg.College.APIKey, logger)

	ctx := context.Background()
	if err := sessions.RestoreSession(ctx); err != nil {
		logger.Warn("session restore failed, starting signed out", "error", err)
	}

	app := &cli{
		sessions:   sessions,
		profiles:   profiles,
		catalog:    catalog,
		engagement: engagement,
		colleges:   colleges,
	}
	return app.repl(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openGateway(cfg *config.Config, logger *slog.Logger) (gateway.Gateway, func(), error) {
	switch cfg.Backend {
	case "local":
		db, err := sqlitegw.New(cfg.LocalDBPath(), logger)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	default:
		client, err := supabase.New(supabase.Config{
			ProjectURL: cfg.Supabase.ProjectURL,
			AnonKey:    cfg.Supabase.AnonKey,
			TokenPath:  cfg.TokenPath(),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}
}

// cli is the REPL over the services. It keeps only what the services do
// not: the email the current OTP was sent to.
type cli struct {
	sessions   *service.SessionManager
	profiles   *service.ProfileService
	catalog    *service.CatalogService
	engagement *service.EngagementService
	colleges   *college.Client

	pendingEmail string
}

func (c *cli) repl(ctx context.Context) error {
	fmt.Println("courseloop — type 'help' for commands")
	c.printStatus()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]
		if cmd == "quit" || cmd == "exit" {
			return nil
		}
		if err := c.dispatch(ctx, cmd, args); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help":
		printHelp()
	case "status":
		c.printStatus()
	case "login":
		return c.login(ctx, args)
	case "verify":
		return c.verify(ctx, args)
	case "logout":
		c.sessions.SignOut(ctx)
		c.pendingEmail = ""
		fmt.Println("signed out")
	case "username":
		return c.setUsername(ctx, args)
	case "profile":
		return c.showProfile(ctx)
	case "college":
		return c.searchColleges(ctx, args)
	case "enroll":
		return c.enroll(ctx, args)
	case "courses":
		return c.listCourses(ctx)
	case "post":
		return c.createPost(ctx, args)
	case "feed":
		return c.feed(ctx, args)
	case "like":
		return c.like(ctx, args)
	case "comment":
		return c.addComment(ctx, args)
	case "comments":
		return c.listComments(ctx, args)
	default:
		fmt.Printf("unknown command %q — type 'help'\n", cmd)
	}
	return nil
}

func printHelp() {
	fmt.Print(`commands:
  login <email>              request a one-time code
  verify <code>              sign in with the emailed code
  logout                     sign out
  status                     show session state
  username <name>            claim a username (first time) or change it
  profile                    show your profile
  college <name...>          search schools by name
  enroll <code> <professor>  add a course (e.g. enroll "CS 101" Smith)
  courses                    list your courses
  post <code> <text...>      post to a course
  feed [code]                show the feed, optionally one course
  like <post-id>             like a post
  comment <post-id> <text..> comment on a post
  comments <post-id>         list a post's comments
  quit
`)
}

func (c *cli) printStatus() {
	fmt.Printf("state: %s", c.sessions.State())
	if p := c.sessions.Profile(); p != nil {
		fmt.Printf(", signed in as %s", p.Username)
	} else if s := c.sessions.Session(); s != nil {
		fmt.Printf(", signed in (no username yet — use 'username <name>')")
	}
	fmt.Println()
}

func (c *cli) login(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: login <email>")
	}
	if err := c.sessions.RequestOTP(ctx, args[0]); err != nil {
		return err
	}
	c.pendingEmail = args[0]
	fmt.Println("code sent — enter it with 'verify <code>'")
	return nil
}

func (c *cli) verify(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: verify <code>")
	}
	if c.pendingEmail == "" {
		return fmt.Errorf("no pending login — use 'login <email>' first")
	}
	if err := c.sessions.VerifyOTP(ctx, c.pendingEmail, args[0]); err != nil {
		return err
	}
	c.pendingEmail = ""
	c.printStatus()
	return nil
}

func (c *cli) setUsername(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: username <name>")
	}
	sess := c.sessions.Session()
	if sess == nil {
		return fmt.Errorf("sign in first")
	}
	profile, err := c.profiles.EnsureProfile(ctx, sess.UserID, args[0])
	if err != nil {
		return err
	}
	if err := c.sessions.RefreshProfile(ctx); err != nil {
		return err
	}
	fmt.Println("username set:", profile.Username)
	return nil
}

func (c *cli) showProfile(ctx context.Context) error {
	sess := c.sessions.Session()
	if sess == nil {
		return fmt.Errorf("sign in first")
	}
	p, err := c.profiles.GetProfile(ctx, sess.UserID)
	if err != nil {
		return err
	}
	fmt.Printf("username:   %s\n", p.Username)
	if p.FullName != "" {
		fmt.Printf("name:       %s\n", p.FullName)
	}
	if p.University != "" {
		fmt.Printf("university: %s\n", p.University)
	}
	return nil
}

func (c *cli) searchColleges(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: college <name...>")
	}
	results := c.colleges.Search(ctx, strings.Join(args, " "))
	if len(results) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, r := range results {
		fmt.Printf("  %s — %s, %s\n", r.Name, r.City, r.State)
	}
	return nil
}

func (c *cli) enroll(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: enroll <code> <professor>")
	}
	sess := c.sessions.Session()
	if sess == nil {
		return fmt.Errorf("sign in first")
	}
	course, err := c.catalog.ResolveCourse(ctx, sess.UserID, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("enrolled in %s (%s)\n", course.CourseCode, course.ProfessorName)
	return nil
}

func (c *cli) listCourses(ctx context.Context) error {
	sess := c.sessions.Session()
	if sess == nil {
		return fmt.Errorf("sign in first")
	}
	courses, err := c.catalog.CoursesForUser(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if len(courses) == 0 {
		fmt.Println("no courses yet — use 'enroll'")
		return nil
	}
	for _, course := range courses {
		fmt.Printf("  %s — %s\n", course.CourseCode, course.ProfessorName)
	}
	return nil
}

func (c *cli) createPost(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: post <code> <text...>")
	}
	post, err := c.engagement.CreatePost(ctx, c.sessions.Profile(), args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("posted to %s (id %s)\n", post.CourseCode, post.ID)
	return nil
}

func (c *cli) feed(ctx context.Context, args []string) error {
	var posts []model.Post
	var err error
	if len(args) > 0 {
		posts, err = c.engagement.ListPostsForCourse(ctx, args[0])
	} else {
		posts, err = c.engagement.ListPosts(ctx)
	}
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		fmt.Println("nothing here yet")
		return nil
	}
	for _, p := range posts {
		fmt.Printf("[%s] %s  by %s  (%d likes, %d comments)\n  %s\n",
			p.ID, p.CourseCode, p.Username, p.LikeCount, p.CommentCount, p.Content)
	}
	return nil
}

func (c *cli) like(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: like <post-id>")
	}
	if err := c.engagement.LikePost(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("liked")
	return nil
}

func (c *cli) addComment(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: comment <post-id> <text...>")
	}
	comment, err := c.engagement.AddComment(ctx, c.sessions.Profile(), args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("comment added (id %s)\n", comment.ID)
	return nil
}

func (c *cli) listComments(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: comments <post-id>")
	}
	comments, err := c.engagement.ListComments(ctx, args[0])
	if err != nil {
		return err
	}
	if len(comments) == 0 {
		fmt.Println("no comments yet")
		return nil
	}
	for _, cm := range comments {
		fmt.Printf("  [%s] %s: %s (%d likes)\n", cm.ID, cm.Username, cm.Content, cm.LikeCount)
	}
	return nil
}
