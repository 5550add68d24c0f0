package storage

// Schema is the driftwatch DDL. Statements are idempotent so Migrate can
// run on every startup.
const Schema = `
CREATE TABLE IF NOT EXISTS sensor_readings (
    id            BIGSERIAL PRIMARY KEY,
    sensor_id     TEXT NOT NULL,
    sensor_type   TEXT NOT NULL,
    timestamp     TIMESTAMPTZ NOT NULL,
    value         DOUBLE PRECISION NOT NULL,
    unit          TEXT NOT NULL DEFAULT '',
    location      TEXT NOT NULL DEFAULT '',
    is_anomaly    BOOLEAN NOT NULL DEFAULT FALSE,
    anomaly_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_sensor_readings_sensor_id ON sensor_readings (sensor_id);
CREATE INDEX IF NOT EXISTS idx_sensor_readings_timestamp ON sensor_readings (timestamp);
CREATE INDEX IF NOT EXISTS idx_sensor_readings_sensor_ts ON sensor_readings (sensor_id, timestamp);

CREATE TABLE IF NOT EXISTS anomaly_alerts (
    id           BIGSERIAL PRIMARY KEY,
    sensor_id    TEXT NOT NULL,
    severity     TEXT NOT NULL,
    message      TEXT NOT NULL,
    probability  DOUBLE PRECISION NOT NULL,
    sensor_value DOUBLE PRECISION NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    resolved     BOOLEAN NOT NULL DEFAULT FALSE,
    resolved_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_anomaly_alerts_sensor_id ON anomaly_alerts (sensor_id);
CREATE INDEX IF NOT EXISTS idx_anomaly_alerts_created_at ON anomaly_alerts (created_at);
CREATE INDEX IF NOT EXISTS idx_anomaly_alerts_resolved ON anomaly_alerts (resolved);
`
