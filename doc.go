// Package ragdex embeds the ragdex question answering pipeline in-process.
//
// A Client connects to Redis (cache tier, KNN and BM25 indexes), embeds
// questions with an OpenAI-compatible endpoint and generates answers with one
// or more configured providers:
//
//	c, err := ragdex.New(
//		ragdex.WithRedis("localhost:6379", ""),
//		ragdex.WithEmbeddings("", os.Getenv("OPENAI_API_KEY"), "text-embedding-3-small", 1536),
//		ragdex.WithGenerator("openai", os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini"),
//	)
//	if err != nil { ... }
//	defer c.Close()
//
//	resp, err := c.Ask(ctx, "Comment calculer ma pension ?")
package ragdex
