package server

// @title Orchestra API
// @version 0.1
// @description Worktree lifecycle and zone automation API for Orchestra

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http
