package flightlog

const (
	schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL,
    name      TEXT     NOT NULL,
    payload   TEXT
);
CREATE TABLE IF NOT EXISTS states (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp           DATETIME NOT NULL,
    latitude            REAL NOT NULL,
    longitude           REAL NOT NULL,
    altitude            REAL NOT NULL,
    distance            REAL NOT NULL,
    battery_remaining   REAL NOT NULL,
    battery_consumption REAL NOT NULL,
    roll                REAL NOT NULL,
    pitch               REAL NOT NULL,
    yaw                 REAL NOT NULL,
    hdop                REAL NOT NULL,
    vibration           INTEGER NOT NULL
);`

	insertEventSQL = `
INSERT INTO events (timestamp, name, payload)
VALUES (?, ?, ?)`

	selectEventsSQL = `
SELECT
    id,
    timestamp,
    name,
    payload
FROM events
ORDER BY id`

	insertStateSQL = `
INSERT INTO states (timestamp,
                    latitude,
                    longitude,
                    altitude,
                    distance,
                    battery_remaining,
                    battery_consumption,
                    roll,
                    pitch,
                    yaw,
                    hdop,
                    vibration)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectStatesSQL = `
SELECT
    id,
    timestamp,
    latitude,
    longitude,
    altitude,
    distance,
    battery_remaining,
    battery_consumption,
    roll,
    pitch,
    yaw,
    hdop,
    vibration
FROM states
ORDER BY id DESC
LIMIT ?`
)
