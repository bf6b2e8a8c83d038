// Package redis broadcasts job lifecycle events over Redis pub/sub.
//
// [Publisher] is a jobdispatch extension that publishes one JSON [Event]
// per lifecycle hook to a channel. [Subscriber] listens on the same
// channel and turns submission events into wake-ups for idle worker
// pools, so a job submitted on one node is picked up without waiting for
// the next poll on another:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	sub := redisnotify.NewSubscriber(client)
//	go sub.Run(ctx)
//
//	eng, err := engine.Build(st,
//	    engine.WithExtension(redisnotify.NewPublisher(client)),
//	    engine.WithWakeup(sub.Wakeup()),
//	)
//
// Delivery is best effort. Pub/sub messages are lost while no subscriber
// is connected, and the pool's poll interval bounds the extra latency.
package redis
