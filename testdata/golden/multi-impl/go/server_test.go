package server

func TestHandle() {
	// [verify api.request.auth]
}
