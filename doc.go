// Package authcore is the authentication session and credential-abuse
// control core for TrailVerse services.
//
// It owns refresh-token issuance and rotation, multi-session tracking
// per user, access-token blacklisting, brute-force and password-reset
// rate limiting with lockout, periodic expiry cleanup, and a read-only
// auth stats rollup. All durable state lives in Redis; the Service holds
// no mutable state in process memory, so any number of horizontally
// scaled instances may share one store.
//
// Construct one Service at process start and pass it to request
// handlers:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	svc, err := authcore.New(rdb, authcore.Config{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer svc.Close()
//
// Identity verification (checking a password against a user record) and
// access-token signing live outside this module; callers hand Issue a
// userID they have already authenticated.
package authcore
