/*
Package server exposes the schedule service over HTTP as a small JSON API.

# Basic Usage

	store := memory.New()
	svc := schedule.NewService(store)
	users := authmemory.New()
	_ = users.AddUser(authmemory.User{Username: "alice", Password: "secret"})

	srv, err := server.New(svc, users, server.Options{Addr: ":8080"})
	if err != nil {
		log.Fatal(err)
	}
	log.Fatal(srv.ListenAndServe(ctx))

# Routes

Every route except /healthz requires Basic authentication. The
authenticated username owns the series and templates it works with.

  - GET /occurrences?start=YYYY-MM-DD&end=YYYY-MM-DD - resolved days
  - POST /series - assign a template to a date, optionally recurring
  - GET /series, GET /series/{id} - read series
  - PATCH /series/{id} - direct edit of end date, rule, notes or active flag
  - DELETE /series/{id} - remove a series outright
  - POST /series/{id}/edit - scoped edit (this, thisAndFuture, all)
  - POST /series/{id}/delete - scoped delete
  - POST /series/{id}/exceptions - skip one date
  - GET /series/{id}/export, GET /calendar.ics - iCalendar export

# Versions

Series responses carry an ETag holding the series version. Sending it back
in If-Match makes a mutation fail with 412 when the series changed in the
meantime.

# Errors

Failures are JSON objects of the form

	{"error": {"code": "not_found", "message": "..."}}

with one of the Code* constants as the code.
*/
package server
