// Package gatekeeper decides where a client belongs in a sign in, pay and
// onboard funnel and keeps the session and profile state that decision is
// made from.
//
// State:
//   - Store holds the session, the profile and a loading flag behind a
//     generation counter. Profile results for a user that is no longer the
//     target are dropped, and the paid and onboarded flags never go back
//     to false for the same user.
//   - Controller restores the persisted session on Initialize, follows the
//     auth provider's change notifications and clears loading exactly once,
//     either after the first resolution or when the init timeout fires.
//
// Profiles:
//   - ProfileResolver fetches the profile, creates it when missing and falls
//     back to an in-memory profile when the backend fails or is too slow.
//     Resolution never fails, Resolution.Kind tells whether the profile was
//     persisted.
//
// Gate and guard:
//   - Evaluate maps a State to a stage and the route the client belongs on.
//   - Guard decides whether a protected page renders, redirects or waits.
//   - HTTPGate applies both to go-router requests. Each browser gets a client
//     cookie and a pooled Controller.
//
// Flows:
//   - ApplyPromo and CompletePayment settle the fee, SaveDraft and
//     SubmitAnswer drive onboarding. Both end with a profile refresh and a
//     short settle delay before navigating on.
//
// The provider/local package is an embedded auth and data backend over bun,
// and drafts holds a redis DraftCache.
package gatekeeper
