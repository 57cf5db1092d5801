package storage

const schemaSQL = `
-- One row per task key. done moves 0 -> 1 once and never back.
CREATE TABLE IF NOT EXISTS tasks (
    key TEXT PRIMARY KEY NOT NULL,
    url TEXT NOT NULL,
    done INTEGER NOT NULL DEFAULT 0 CHECK (done IN (0, 1)),
    added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_done ON tasks(done);

-- View for monitoring a running crawl from another process
CREATE VIEW IF NOT EXISTS frontier_status AS
SELECT
    CASE done WHEN 1 THEN 'done' ELSE 'pending' END AS state,
    COUNT(*) AS count,
    MIN(added_at) AS oldest_item,
    MAX(updated_at) AS last_update
FROM tasks
GROUP BY done;
`

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS %s (
    key TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    done BOOLEAN NOT NULL DEFAULT FALSE,
    added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
