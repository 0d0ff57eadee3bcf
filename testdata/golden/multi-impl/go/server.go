package server

// Handle serves one request.
func Handle() {
	// [impl api.request.auth]
}

func Other() {
	// [impl api.request.missing]
}
