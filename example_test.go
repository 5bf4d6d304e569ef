package authflow_test

import (
	"context"
	"fmt"

	"github.com/frog8/authflow"
	"github.com/redis/go-redis/v9"
)

// ExampleNew builds an engine backed by Redis.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})

	engine, err := authflow.New().
		WithRedis(rdb).
		Build()
	if err != nil {
		return
	}
	defer engine.Close()
}

// ExampleEngine_Start runs one flow against the simulated backend.
func ExampleEngine_Start() {
	cfg := authflow.DefaultConfig()
	cfg.Flow.AckDelay = 0
	cfg.Simulation.IssueDelay = 0
	cfg.Simulation.VerifyDelay = 0

	engine, err := authflow.New().WithConfig(cfg).Build()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer engine.Close()

	done := make(chan authflow.Completion, 1)
	ctl, err := engine.Start(context.Background(), func(c authflow.Completion) { done <- c })
	if err != nil {
		fmt.Println(err)
		return
	}

	ctx := context.Background()
	_ = ctl.SubmitCredentials(ctx, authflow.Credentials{
		Name:  "Ada Lovelace",
		Phone: "+14155550123",
		Email: "ada@example.com",
	})
	fmt.Println(ctl.State())

	_ = ctl.SubmitCode(ctx, "123456")
	completion := <-done
	fmt.Println(ctl.State(), completion.Name)
	// Output:
	// verifying
	// succeeded Ada Lovelace
}

func ExampleMaskPhone() {
	fmt.Println(authflow.MaskPhone("+14155550123"))
	// Output: +*******0123
}
