package auth

// CountAuthMethods returns the number of usable sign-in methods for the
// user: the password, if set, plus each linked external identity. Pure
// computation over already-fetched data.
func CountAuthMethods(user *User, conns []*OAuthConnection) int {
	n := len(conns)
	if user.HasPassword() {
		n++
	}
	return n
}

// CanRemoveMethod reports whether one method can be removed while keeping
// the account reachable. Must be checked before an unlink persists, never
// after.
func CanRemoveMethod(user *User, conns []*OAuthConnection) bool {
	return CountAuthMethods(user, conns) > 1
}
