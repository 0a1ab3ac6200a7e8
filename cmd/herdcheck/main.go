// herdcheck 运维排查工具：打印牧场牲畜、追踪器与告警状态
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"herdwatch/common/database"
	"herdwatch/common/logger"
	"herdwatch/internal/config"

	"go.uber.org/zap"
)

func main() {
	farmID := flag.Int64("farm", 0, "farm id")
	stale := flag.Duration("stale", 6*time.Hour, "tracker silence threshold")
	flag.Parse()

	log, err := logger.NewLogger("info", "console", "herdcheck")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *farmID <= 0 {
		log.Fatal("-farm is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	c := &checker{db: db, out: os.Stdout, now: time.Now().UTC()}
	if err := c.run(ctx, *farmID, *stale); err != nil {
		log.Fatal("Check failed", zap.Int64("farm_id", *farmID), zap.Error(err))
	}
}

type checker struct {
	db  *sql.DB
	out io.Writer
	now time.Time
}

func (c *checker) run(ctx context.Context, farmID int64, stale time.Duration) error {
	// 1. 牲畜名册
	c.section("1. Animals on farm %d", farmID)
	if err := c.roster(ctx, farmID); err != nil {
		return err
	}

	// 2. 追踪器双向绑定不一致
	c.section("2. Tracker links out of sync")
	if err := c.brokenLinks(ctx, farmID); err != nil {
		return err
	}

	// 3. 长时间未上报的追踪器
	c.section("3. Trackers silent for more than %s", stale)
	return c.silentTrackers(ctx, farmID, stale)
}

func (c *checker) section(format string, args ...any) {
	line := strings.Repeat("=", 80)
	fmt.Fprintln(c.out, line)
	fmt.Fprintf(c.out, format+"\n", args...)
	fmt.Fprintln(c.out, line)
}

const rosterQuery = `
	SELECT a.id, a.name, a.tag, a.status,
	       COALESCE(t.device_id, ''), COALESCE(t.battery_level, 0),
	       (SELECT MAX(lh.timestamp) FROM location_history lh WHERE lh.animal_id = a.id),
	       (SELECT COUNT(*) FROM alerts al WHERE al.animal_id = a.id AND al.is_resolved = FALSE)
	FROM animals a
	LEFT JOIN trackers t ON t.id = a.tracker_id
	WHERE a.farm_id = $1
	ORDER BY a.id`

func (c *checker) roster(ctx context.Context, farmID int64) error {
	rows, err := c.db.QueryContext(ctx, rosterQuery, farmID)
	if err != nil {
		return fmt.Errorf("failed to query animals: %w", err)
	}
	defer rows.Close()

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTAG\tSTATUS\tTRACKER\tBATTERY\tLAST FIX\tACTIVE ALERTS")
	count := 0
	for rows.Next() {
		var (
			id, battery, alerts int64
			name, tag, status   string
			device              string
			lastFix             sql.NullTime
		)
		if err := rows.Scan(&id, &name, &tag, &status, &device, &battery, &lastFix, &alerts); err != nil {
			return fmt.Errorf("failed to scan animal: %w", err)
		}
		fix := "never"
		if lastFix.Valid {
			fix = lastFix.Time.UTC().Format(time.RFC3339)
		}
		if device == "" {
			device = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d%%\t%s\t%d\n", id, name, tag, status, device, battery, fix, alerts)
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	w.Flush()
	fmt.Fprintf(c.out, "%d animal(s)\n", count)
	return nil
}

const brokenLinksQuery = `
	SELECT a.id, a.tracker_id, t.animal_id
	FROM animals a
	JOIN trackers t ON t.id = a.tracker_id
	WHERE a.farm_id = $1 AND (t.animal_id IS NULL OR t.animal_id <> a.id)`

func (c *checker) brokenLinks(ctx context.Context, farmID int64) error {
	rows, err := c.db.QueryContext(ctx, brokenLinksQuery, farmID)
	if err != nil {
		return fmt.Errorf("failed to query tracker links: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var animalID, trackerID int64
		var linked sql.NullInt64
		if err := rows.Scan(&animalID, &trackerID, &linked); err != nil {
			return fmt.Errorf("failed to scan tracker link: %w", err)
		}
		back := "none"
		if linked.Valid {
			back = fmt.Sprintf("animal %d", linked.Int64)
		}
		fmt.Fprintf(c.out, "animal %d -> tracker %d, tracker -> %s\n", animalID, trackerID, back)
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if count == 0 {
		fmt.Fprintln(c.out, "ok")
	}
	return nil
}

const silentTrackersQuery = `
	SELECT t.device_id, t.status, t.last_seen
	FROM trackers t
	JOIN animals a ON a.id = t.animal_id
	WHERE a.farm_id = $1 AND t.last_seen < $2
	ORDER BY t.last_seen`

func (c *checker) silentTrackers(ctx context.Context, farmID int64, stale time.Duration) error {
	rows, err := c.db.QueryContext(ctx, silentTrackersQuery, farmID, c.now.Add(-stale))
	if err != nil {
		return fmt.Errorf("failed to query trackers: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var device, status string
		var lastSeen time.Time
		if err := rows.Scan(&device, &status, &lastSeen); err != nil {
			return fmt.Errorf("failed to scan tracker: %w", err)
		}
		silent := c.now.Sub(lastSeen).Truncate(time.Minute)
		fmt.Fprintf(c.out, "%s (%s) last seen %s, %s ago\n", device, status, lastSeen.UTC().Format(time.RFC3339), silent)
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if count == 0 {
		fmt.Fprintln(c.out, "ok")
	}
	return nil
}
