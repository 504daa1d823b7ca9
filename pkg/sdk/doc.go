/*
Package sdk is the beacon client library: it records analytics events,
sessions, views, crashes and user details on the device, keeps them in
durable queues and delivers them to a collector.

# Quick Start

	client, err := sdk.New(sdk.Config{
	    ServerURL:   "https://collector.example.com",
	    AppKey:      "YOUR_APP_KEY",
	    AppVersion:  "1.4.0",
	    StoragePath: "/var/lib/myapp/beacon",
	}, sdk.WithLogger(log))
	if err != nil {
	    log.Fatal().Err(err).Msg("beacon")
	}

	if err := client.Init(ctx); err != nil {
	    log.Fatal().Err(err).Msg("beacon init")
	}
	defer client.Shutdown(context.Background())

	client.BeginSession(ctx)
	client.RecordEvent(ctx, "purchase",
	    sdk.WithSum(9.99),
	    sdk.WithSegmentation(records.NewSegmentation("sku", "A-1")),
	)

# Delivery

Every record is appended to its queue and persisted before any network
call. Queues are drained in a fixed order: sessions, events (15 per
request), crashes, user details, then stored requests such as consent,
location and device id merges. A failed request stops the drain and leaves
the record at the head of its queue; the next record call, session update
or explicit Upload retries it. Only one request is in flight at a time.

Record calls return true when the record was delivered or intentionally
deferred, and false when it was rejected or is waiting for a retry.
QueueEvent and QueueException only queue and return at once; a background
uploader sends their records. Use them on request paths that must not wait
on the collector.

# Consent

With Config.ConsentRequired every feature is denied until granted with
SetConsent. Calls for a denied feature are dropped.

	client.SetConsent(ctx, map[consent.Feature]bool{
	    consent.Sessions: true,
	    consent.Events:   true,
	})

# Crashes

Handled errors are uploaded right away. Unhandled ones are persisted and
sent on the next run:

	defer func() {
	    if r := recover(); r != nil {
	        client.RecordException(ctx, fmt.Sprint(r), string(debug.Stack()), nil, true)
	        panic(r)
	    }
	}()

AddBreadcrumb keeps a bounded log of recent actions attached to every crash.

# Backend Mode

With Config.BackendMode one client records for many devices and apps.
Events are buffered per device and app and flushed when a device, app or
global threshold is reached, or periodically:

	b := client.Backend()
	b.RecordEvent(ctx, sdk.Target{DeviceID: "user-42", AppKey: "app"}, "login")
	b.RecordUserProperties(ctx, sdk.Target{DeviceID: "user-42", AppKey: "app"},
	    map[string]any{"name": "Ada", "plan": "pro"})

# Storage

Queues are stored under StoragePath in badger (default) or as JSON files
(Storage: StorageFile). Without a path they are kept in memory only.
*/
package sdk
