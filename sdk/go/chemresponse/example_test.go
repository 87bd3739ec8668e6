package chemresponse_test

import (
	"context"
	"fmt"
	"time"

	"ChemResponse-Chain/sdk/go/chemresponse"
)

func ExampleClient_SubmitAndWait() {
	client, err := chemresponse.NewClient("http://localhost:8080", nil)
	if err != nil {
		panic(err)
	}
	client.SetAccessToken("change-me")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	run, err := client.SubmitAndWait(ctx, chemresponse.Submission{
		Input: "某化工园区氯气储罐阀门破裂，现场有刺激性气味，东南风 3 级，下风向 500 米有居民区。",
	}, time.Minute)
	if err != nil {
		fmt.Println("submit failed:", err)
		return
	}
	fmt.Println(run.ID, run.Status)
}
