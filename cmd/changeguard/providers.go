package main

// Provider blank imports: each import activates a self-registering notifier.

import (
	_ "github.com/Strob0t/ChangeGuard/internal/adapter/discord"
	_ "github.com/Strob0t/ChangeGuard/internal/adapter/slack"
)
